// Package pool – pool.go owns the set of live page connections.
//
// The pool keeps one connection per discovered target, injects the monitor
// script exactly once per connection lifetime, propagates hot-updatable
// config to already-injected pages, and enforces a maximum size by evicting
// the least-recently-connected entry. All state converges on Reconcile,
// which the watcher drives periodically; a target lost this pass simply
// comes back the next one.
package pool

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/discovery"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/monitor"
)

// stopGrace is how long Stop waits between signalling monitors to stop and
// force-closing their channels.
const stopGrace = 500 * time.Millisecond

// Conn is the slice of the cdp connection the pool needs. Narrowed to an
// interface so tests can script channel behavior.
type Conn interface {
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
	FireEvaluate(expression string)
	Close()
	Closed() bool
}

// Dialer opens a Conn for a target's WebSocket debugger URL.
type Dialer interface {
	Dial(ctx context.Context, wsURL string) (Conn, error)
}

// entry is the pool's record for one bound target.
type entry struct {
	target      discovery.Target
	conn        Conn
	injected    bool
	connectedAt time.Time
}

// Pool binds discovered targets to monitor-carrying connections.
type Pool struct {
	dialer Dialer
	max    int
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*entry
}

// New creates a pool capped at max connections.
func New(dialer Dialer, max int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if max <= 0 {
		max = 1
	}
	return &Pool{
		dialer: dialer,
		max:    max,
		logger: logger.With("component", "pool"),
		conns:  make(map[string]*entry),
	}
}

// Reconcile converges the pool onto the given target set and returns the
// resulting connection count. Per-target failures are logged and skipped;
// they heal on the next pass. Reconcile is single-flight (the watcher's
// maintenance loop is its only caller); the lock guards only the map, so
// Size, Keys, Stats and Stop stay responsive while dials and evaluates are
// in flight.
func (p *Pool) Reconcile(ctx context.Context, targets []discovery.Target, cfg monitor.Config) int {
	// Phase 1, under the lock: drop dead connections and sort the targets
	// into already-running, injection-retry, and not-yet-pooled.
	p.mu.Lock()
	for key, e := range p.conns {
		if e.conn.Closed() {
			p.logger.Info("dropping dead connection", "target", key)
			delete(p.conns, key)
		}
	}
	var push, reinject []*entry
	var fresh []discovery.Target
	for _, target := range targets {
		if e, ok := p.conns[target.Key()]; ok {
			if e.injected {
				push = append(push, e)
			} else {
				reinject = append(reinject, e)
			}
			continue
		}
		fresh = append(fresh, target)
	}
	p.mu.Unlock()

	// Phase 2, network I/O without the lock.
	for _, e := range push {
		p.propagate(ctx, e, cfg)
	}
	for _, e := range reinject {
		// A previous injection failed; retry it wholesale.
		e.injected = p.inject(ctx, e, cfg)
	}
	for _, target := range fresh {
		p.admit(ctx, target, cfg)
	}

	return p.Size()
}

// propagate sends the hot-updatable config fields to an already-running
// page. The script body never travels again.
func (p *Pool) propagate(ctx context.Context, e *entry, cfg monitor.Config) {
	key := e.target.Key()
	if _, err := e.conn.Evaluate(ctx, monitor.SetAcceptAllExpr(cfg.AcceptAll)); err != nil {
		p.logger.Debug("config propagation failed", "target", key, "error", err)
		return
	}
	if _, err := e.conn.Evaluate(ctx, monitor.SetPollIntervalExpr(cfg.PollIntervalMs)); err != nil {
		p.logger.Debug("config propagation failed", "target", key, "error", err)
	}
}

// admit evicts if at capacity, opens a channel to target, and injects the
// monitor. The dial and the injection run outside the lock.
func (p *Pool) admit(ctx context.Context, target discovery.Target, cfg monitor.Config) {
	key := target.Key()

	p.mu.Lock()
	if len(p.conns) >= p.max {
		p.evictOldest()
	}
	p.mu.Unlock()

	conn, err := p.dialer.Dial(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		p.logger.Warn("failed to open connection", "target", key, "error", err)
		return
	}
	e := &entry{
		target:      target,
		conn:        conn,
		connectedAt: time.Now(),
	}
	p.mu.Lock()
	p.conns[key] = e
	p.mu.Unlock()
	p.logger.Info("connected", "target", key, "title", target.Title)

	e.injected = p.inject(ctx, e, cfg)
}

// inject loads the monitor script and starts it. Returns true only when both
// steps succeeded; a partial injection is retried wholesale next pass, which
// is safe because the script body is idempotent.
func (p *Pool) inject(ctx context.Context, e *entry, cfg monitor.Config) bool {
	key := e.target.Key()
	if _, err := e.conn.Evaluate(ctx, monitor.InjectExpr()); err != nil {
		p.logger.Warn("script injection failed", "target", key, "error", err)
		return false
	}
	if _, err := e.conn.Evaluate(ctx, monitor.StartExpr(cfg)); err != nil {
		p.logger.Warn("monitor start failed", "target", key, "error", err)
		return false
	}
	p.logger.Info("monitor injected", "target", key)
	return true
}

// evictOldest removes the connection with the smallest connectedAt,
// tie-broken by key so eviction is deterministic. Caller holds p.mu.
func (p *Pool) evictOldest() {
	if len(p.conns) == 0 {
		return
	}

	keys := make([]string, 0, len(p.conns))
	for key := range p.conns {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	oldest := keys[0]
	for _, key := range keys[1:] {
		if p.conns[key].connectedAt.Before(p.conns[oldest].connectedAt) {
			oldest = key
		}
	}

	e := p.conns[oldest]
	p.logger.Info("evicting oldest connection", "target", oldest)
	// Best-effort: ask the page's monitor to tear down its observers and
	// timers before the channel disappears. Not awaited.
	e.conn.FireEvaluate(monitor.StopExpr())
	e.conn.Close()
	delete(p.conns, oldest)
}

// Stats sums monitor counters across every live connection. Realms that fail
// to answer contribute nothing.
func (p *Pool) Stats(ctx context.Context) monitor.Stats {
	var total monitor.Stats
	for _, e := range p.snapshot() {
		raw, err := e.conn.Evaluate(ctx, monitor.StatsExpr())
		if err != nil {
			continue
		}
		stats, err := monitor.ParseStats(raw)
		if err != nil {
			continue
		}
		total.Add(stats)
	}
	return total
}

// ResetStats zeroes monitor counters on every live connection.
func (p *Pool) ResetStats(ctx context.Context) {
	for _, e := range p.snapshot() {
		if _, err := e.conn.Evaluate(ctx, monitor.ResetStatsExpr()); err != nil {
			p.logger.Debug("stats reset failed", "target", e.target.Key(), "error", err)
		}
	}
}

// Stop signals every monitor to stop, waits a short grace period, then
// closes all channels and clears the pool unconditionally.
func (p *Pool) Stop(ctx context.Context) {
	entries := p.snapshot()
	for _, e := range entries {
		e.conn.FireEvaluate(monitor.StopExpr())
	}

	if len(entries) > 0 {
		select {
		case <-time.After(stopGrace):
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for key, e := range p.conns {
		e.conn.Close()
		delete(p.conns, key)
	}
	p.logger.Info("pool stopped")
}

// Size returns the current connection count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Keys returns the pooled target identifiers, sorted.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.conns))
	for key := range p.conns {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// snapshot copies the entry list so slow evaluate calls run outside the lock.
func (p *Pool) snapshot() []*entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]*entry, 0, len(p.conns))
	for _, e := range p.conns {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].target.Key() < entries[j].target.Key()
	})
	return entries
}
