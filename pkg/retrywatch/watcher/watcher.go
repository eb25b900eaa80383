// Package watcher – watcher.go runs the orchestration loop that keeps the
// connection pool converged with whatever debuggable pages currently exist.
//
// Two independent periodic activities, started together and stopped
// together:
//
//	maintenance tick (5s): discovery scan + pool reconciliation
//	telemetry tick   (2s): aggregate monitor stats, notify on click changes
//
// On top of those, an optional cron schedule resets monitor counters and a
// nightly job prunes old history samples. Nothing here is fatal: every
// failure is scoped to one tick and self-heals on the next.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/cdp"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/config"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/discovery"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/history"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/monitor"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/pool"
)

const (
	maintenanceInterval = 5 * time.Second
	telemetryInterval   = 2 * time.Second

	// pruneSchedule runs the history prune nightly at 03:00 local time.
	pruneSchedule = "0 3 * * *"
)

// Status is the state exposed to the UI collaborator.
type Status struct {
	Running     bool `json:"running"`
	Connections int  `json:"connectionCount"`
}

// targetScanner is the slice of discovery the watcher drives.
type targetScanner interface {
	Scan(ctx context.Context, basePort, radius int) []discovery.Target
}

// connPool is the slice of the pool the watcher drives.
type connPool interface {
	Reconcile(ctx context.Context, targets []discovery.Target, cfg monitor.Config) int
	Stats(ctx context.Context) monitor.Stats
	ResetStats(ctx context.Context)
	Stop(ctx context.Context)
	Size() int
	Keys() []string
}

// Watcher owns discovery, the pool, and the periodic loops.
type Watcher struct {
	scanner targetScanner
	pool    connPool
	hist    *history.Store
	notify  Notifier
	logger  *slog.Logger
	runID   string

	mu         sync.Mutex
	cfg        *config.Config
	running    bool
	cancel     context.CancelFunc
	done       sync.WaitGroup
	cron       *cron.Cron
	lastStats  monitor.Stats
	lastClicks int64

	warnedNoConns bool
}

// New creates a watcher. notifier and hist may be nil; a nil notifier logs
// notifications instead.
func New(cfg *config.Config, notifier Notifier, hist *history.Store, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	runID := uuid.NewString()
	logger = logger.With("component", "watcher", "run_id", runID)

	dialer := cdp.NewDialer(logger)
	return &Watcher{
		scanner: discovery.NewScanner(logger),
		pool:    pool.New(connDialer{dialer}, cfg.MaxConnections, logger),
		hist:    hist,
		notify:  notifier,
		logger:  logger,
		runID:   runID,
		cfg:     cfg,
	}
}

// connDialer adapts *cdp.Dialer to the pool's Dialer interface.
type connDialer struct {
	d *cdp.Dialer
}

func (a connDialer) Dial(ctx context.Context, wsURL string) (pool.Conn, error) {
	conn, err := a.d.Dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Start launches the periodic loops. A second Start on a running watcher is
// a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	resetCron := w.cfg.ResetStatsCron
	retention := w.cfg.HistoryRetention
	w.mu.Unlock()

	w.logger.Info("watcher started")

	w.done.Add(2)
	go w.maintenanceLoop(loopCtx)
	go w.telemetryLoop(loopCtx)

	w.startCron(loopCtx, resetCron, retention)
}

// startCron wires the optional scheduled jobs.
func (w *Watcher) startCron(ctx context.Context, resetSpec string, retention time.Duration) {
	c := cron.New()

	if resetSpec != "" {
		if _, err := c.AddFunc(resetSpec, func() {
			w.logger.Info("scheduled stats reset")
			w.pool.ResetStats(ctx)
			w.mu.Lock()
			w.lastStats = monitor.Stats{}
			w.lastClicks = 0
			w.mu.Unlock()
		}); err != nil {
			w.logger.Warn("invalid reset_stats_cron, ignoring", "spec", resetSpec, "error", err)
		}
	}

	if w.hist != nil {
		if _, err := c.AddFunc(pruneSchedule, func() {
			pruned, err := w.hist.Prune(time.Now().Add(-retention))
			if err != nil {
				w.logger.Warn("history prune failed", "error", err)
				return
			}
			w.logger.Info("history pruned", "removed", pruned)
		}); err != nil {
			w.logger.Warn("history prune schedule rejected", "error", err)
		}
	}

	c.Start()
	w.mu.Lock()
	w.cron = c
	w.mu.Unlock()
}

// maintenanceLoop re-runs discovery and reconciliation until stopped. The
// first pass runs immediately so startup does not wait a full interval.
func (w *Watcher) maintenanceLoop(ctx context.Context) {
	defer w.done.Done()

	w.maintain(ctx)

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.maintain(ctx)
		}
	}
}

// maintain is one maintenance pass: scan ports, reconcile the pool. The
// config is copied under the lock because ApplyConfig mutates it from the
// config-watcher goroutine.
func (w *Watcher) maintain(ctx context.Context) {
	w.mu.Lock()
	cfg := *w.cfg
	w.mu.Unlock()

	targets := w.scanner.Scan(ctx, cfg.BasePort, cfg.PortRadius)
	if len(targets) == 0 {
		w.logger.Debug("no debuggable targets found")
	}

	mcfg := monitor.NewConfig(cfg.PollInterval, cfg.Cooldown, cfg.AcceptAll, cfg.BannedCommands)
	count := w.pool.Reconcile(ctx, targets, mcfg)

	// Warn once per outage, not on every idle tick.
	w.mu.Lock()
	warned := w.warnedNoConns
	w.warnedNoConns = count == 0
	w.mu.Unlock()
	if count == 0 && !warned {
		w.notify.Notify("no connections found", SeverityWarn)
	}
}

// telemetryLoop polls aggregate stats and pushes updates to the notifier
// only when the click count changed, to avoid redundant UI churn.
func (w *Watcher) telemetryLoop(ctx context.Context) {
	defer w.done.Done()

	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.collect(ctx)
		}
	}
}

// collect is one telemetry pass.
func (w *Watcher) collect(ctx context.Context) {
	stats := w.pool.Stats(ctx)

	w.mu.Lock()
	changed := stats.Clicks != w.lastClicks
	w.lastStats = stats
	w.lastClicks = stats.Clicks
	w.mu.Unlock()

	if !changed {
		return
	}

	w.logger.Info("stats changed",
		"clicks", stats.Clicks,
		"blocked", stats.Blocked,
		"accept_all_clicks", stats.AcceptAllClicks,
	)
	w.notify.NotifyStats(stats)

	if w.hist != nil {
		err := w.hist.Append(history.Sample{
			RunID:       w.runID,
			RecordedAt:  time.Now(),
			Stats:       stats,
			Connections: w.pool.Size(),
		})
		if err != nil {
			w.logger.Warn("failed to record stats sample", "error", err)
		}
	}
}

// Stop cancels both loops and the cron jobs, signals every monitor to stop,
// and closes all channels. Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	cancel()
	w.done.Wait()

	// Pool teardown gets its own bounded context; the loop context is gone.
	ctx, done := context.WithTimeout(context.Background(), 3*time.Second)
	defer done()
	w.pool.Stop(ctx)

	w.logger.Info("watcher stopped")
}

// ApplyConfig hot-reloads the safe subset of a changed config: the
// accept-all toggle and the poll interval. Everything else needs a restart.
func (w *Watcher) ApplyConfig(cfg *config.Config) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cfg.AcceptAll != cfg.AcceptAll {
		w.logger.Info("accept-all toggled", "enabled", cfg.AcceptAll)
	}
	w.cfg.AcceptAll = cfg.AcceptAll
	w.cfg.PollInterval = cfg.PollInterval
}

// Status reports lifecycle state for the UI collaborator.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	return Status{
		Running:     running,
		Connections: w.pool.Size(),
	}
}

// Targets returns the pooled target identifiers, sorted.
func (w *Watcher) Targets() []string {
	return w.pool.Keys()
}

// AggregateStats returns the last collected aggregate counters.
func (w *Watcher) AggregateStats() monitor.Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastStats
}

// ResetStats zeroes counters in every realm and the cached aggregate.
func (w *Watcher) ResetStats(ctx context.Context) {
	w.pool.ResetStats(ctx)
	w.mu.Lock()
	w.lastStats = monitor.Stats{}
	w.lastClicks = 0
	w.mu.Unlock()
}
