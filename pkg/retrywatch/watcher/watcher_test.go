// Package watcher – watcher_test.go tests the orchestration loop with fake
// discovery and pool implementations.
package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/config"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/discovery"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/monitor"
)

type fakeScanner struct {
	mu      sync.Mutex
	targets []discovery.Target
	scans   int
}

func (s *fakeScanner) Scan(context.Context, int, int) []discovery.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	return s.targets
}

type fakePool struct {
	mu         sync.Mutex
	reconciles []monitor.Config
	stats      monitor.Stats
	size       int
	stopped    int
	resets     int
}

func (p *fakePool) Reconcile(_ context.Context, targets []discovery.Target, cfg monitor.Config) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciles = append(p.reconciles, cfg)
	p.size = len(targets)
	return p.size
}

func (p *fakePool) Stats(context.Context) monitor.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *fakePool) ResetStats(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
}

func (p *fakePool) Stop(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped++
	p.size = 0
}

func (p *fakePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *fakePool) Keys() []string { return nil }

func (p *fakePool) setStats(s monitor.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = s
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	stats    []monitor.Stats
}

func (n *recordingNotifier) Notify(message string, _ Severity) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *recordingNotifier) NotifyStats(stats monitor.Stats) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stats = append(n.stats, stats)
}

func (n *recordingNotifier) messageCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func (n *recordingNotifier) statsCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.stats)
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeScanner, *fakePool, *recordingNotifier) {
	t.Helper()
	cfg := config.DefaultConfig()
	notifier := &recordingNotifier{}
	w := New(cfg, notifier, nil, nil)

	scanner := &fakeScanner{}
	pool := &fakePool{}
	w.scanner = scanner
	w.pool = pool
	return w, scanner, pool, notifier
}

func TestMaintain_ReconcilesWithMonitorConfig(t *testing.T) {
	t.Parallel()

	w, scanner, pool, _ := newTestWatcher(t)
	scanner.targets = []discovery.Target{{Port: 31905, ID: "abc", Type: "page"}}

	w.maintain(context.Background())

	require.Len(t, pool.reconciles, 1)
	cfg := pool.reconciles[0]
	assert.Equal(t, 3000, cfg.PollIntervalMs)
	assert.False(t, cfg.AcceptAll)
	assert.Equal(t, monitor.DefaultBannedCommands, cfg.BannedCommands)
	assert.Equal(t, 1, scanner.scans)
}

func TestMaintain_WarnsOncePerOutage(t *testing.T) {
	t.Parallel()

	w, scanner, _, notifier := newTestWatcher(t)

	// Idle ticks: exactly one warning.
	w.maintain(context.Background())
	w.maintain(context.Background())
	w.maintain(context.Background())
	assert.Equal(t, 1, notifier.messageCount())

	// Recovery, then a new outage: a second warning.
	scanner.targets = []discovery.Target{{Port: 31905, ID: "abc", Type: "page"}}
	w.maintain(context.Background())
	assert.Equal(t, 1, notifier.messageCount())

	scanner.targets = nil
	w.maintain(context.Background())
	assert.Equal(t, 2, notifier.messageCount())
}

func TestCollect_NotifiesOnlyOnClickChange(t *testing.T) {
	t.Parallel()

	w, _, pool, notifier := newTestWatcher(t)

	// No clicks yet: no notification.
	w.collect(context.Background())
	assert.Equal(t, 0, notifier.statsCount())

	// Clicks moved: one notification.
	pool.setStats(monitor.Stats{Clicks: 2, Blocked: 1})
	w.collect(context.Background())
	assert.Equal(t, 1, notifier.statsCount())
	assert.Equal(t, monitor.Stats{Clicks: 2, Blocked: 1}, w.AggregateStats())

	// Same clicks (blocked moved): UI stays quiet, aggregate still updates.
	pool.setStats(monitor.Stats{Clicks: 2, Blocked: 5})
	w.collect(context.Background())
	assert.Equal(t, 1, notifier.statsCount())
	assert.Equal(t, monitor.Stats{Clicks: 2, Blocked: 5}, w.AggregateStats())

	pool.setStats(monitor.Stats{Clicks: 3, Blocked: 5})
	w.collect(context.Background())
	assert.Equal(t, 2, notifier.statsCount())
}

func TestStartStop_Idempotent(t *testing.T) {
	t.Parallel()

	w, _, pool, _ := newTestWatcher(t)
	ctx := context.Background()

	w.Start(ctx)
	w.Start(ctx) // second start is a no-op
	assert.True(t, w.Status().Running)

	w.Stop()
	assert.False(t, w.Status().Running)
	assert.Equal(t, 1, pool.stopped)

	// Double stop produces no error and no second teardown.
	w.Stop()
	assert.Equal(t, 1, pool.stopped)
}

func TestStop_TearsDownEvenWhenIdle(t *testing.T) {
	t.Parallel()

	w, _, pool, _ := newTestWatcher(t)
	w.Start(context.Background())

	// The immediate maintenance pass ran with no targets; stopping still
	// clears the pool unconditionally.
	w.Stop()
	assert.Equal(t, 1, pool.stopped)
	assert.Equal(t, 0, w.Status().Connections)
}

func TestApplyConfig_HotReloadsSafeFields(t *testing.T) {
	t.Parallel()

	w, _, pool, _ := newTestWatcher(t)

	updated := config.DefaultConfig()
	updated.AcceptAll = true
	updated.PollInterval = 10 * time.Second
	updated.BasePort = 12345 // not hot-reloadable; must be ignored
	w.ApplyConfig(updated)

	w.maintain(context.Background())
	require.Len(t, pool.reconciles, 1)
	assert.True(t, pool.reconciles[0].AcceptAll)
	assert.Equal(t, 10000, pool.reconciles[0].PollIntervalMs)

	w.mu.Lock()
	assert.NotEqual(t, 12345, w.cfg.BasePort)
	w.mu.Unlock()
}

func TestApplyConfig_ConcurrentWithMaintain(t *testing.T) {
	t.Parallel()

	w, scanner, _, _ := newTestWatcher(t)
	scanner.targets = []discovery.Target{{Port: 31905, ID: "abc", Type: "page"}}

	// Config updates arrive from the config-watcher goroutine while the
	// maintenance loop is mid-pass; both must be safe under the race detector.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			w.maintain(context.Background())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			updated := config.DefaultConfig()
			updated.AcceptAll = i%2 == 0
			updated.PollInterval = time.Duration(i+1) * time.Millisecond
			w.ApplyConfig(updated)
		}
	}()
	wg.Wait()
}

func TestResetStats_ClearsAggregate(t *testing.T) {
	t.Parallel()

	w, _, pool, _ := newTestWatcher(t)
	pool.setStats(monitor.Stats{Clicks: 9})
	w.collect(context.Background())
	require.Equal(t, monitor.Stats{Clicks: 9}, w.AggregateStats())

	w.ResetStats(context.Background())
	assert.Equal(t, monitor.Stats{}, w.AggregateStats())
	assert.Equal(t, 1, pool.resets)
}
