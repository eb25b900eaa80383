// Package pool – pool_test.go tests reconciliation, eviction and injection
// bookkeeping with a scripted fake dialer.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/discovery"
	"github.com/jholhewres/retrywatch/pkg/retrywatch/monitor"
)

// fakeConn records every expression sent to it.
type fakeConn struct {
	mu       sync.Mutex
	evals    []string
	fires    []string
	closed   bool
	evalErr  error          // returned by every Evaluate when set
	statsVal *monitor.Stats // reply for StatsExpr
}

func (c *fakeConn) Evaluate(_ context.Context, expression string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evals = append(c.evals, expression)
	if c.evalErr != nil {
		return nil, c.evalErr
	}
	if expression == monitor.StatsExpr() && c.statsVal != nil {
		inner, _ := json.Marshal(c.statsVal)
		value, _ := json.Marshal(string(inner))
		return json.RawMessage(fmt.Sprintf(`{"result":{"type":"string","value":%s}}`, value)), nil
	}
	return json.RawMessage(`{"result":{"type":"string","value":"ok"}}`), nil
}

func (c *fakeConn) FireEvaluate(expression string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fires = append(c.fires, expression)
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentScript() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.evals {
		if e == monitor.InjectExpr() {
			n++
		}
	}
	return n
}

func (c *fakeConn) sentExprContaining(sub string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.evals {
		if strings.Contains(e, sub) {
			n++
		}
	}
	return n
}

// fakeDialer returns a fresh fakeConn per URL, or an error for URLs in fail.
type fakeDialer struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
	fail  map[string]bool
	dials int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		conns: make(map[string]*fakeConn),
		fail:  make(map[string]bool),
	}
}

func (d *fakeDialer) Dial(_ context.Context, wsURL string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail[wsURL] {
		return nil, errors.New("dial refused")
	}
	c := &fakeConn{}
	d.conns[wsURL] = c
	return c, nil
}

func (d *fakeDialer) conn(wsURL string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[wsURL]
}

func target(port int, id string) discovery.Target {
	return discovery.Target{
		Port:                 port,
		ID:                   id,
		Type:                 "page",
		WebSocketDebuggerURL: fmt.Sprintf("ws://127.0.0.1:%d/devtools/page/%s", port, id),
	}
}

func testConfig(acceptAll bool) monitor.Config {
	return monitor.NewConfig(3*time.Second, 2*time.Second, acceptAll, nil)
}

func TestReconcile_OpensAndInjects(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 10, nil)

	tgt := target(31905, "abc")
	count := p.Reconcile(context.Background(), []discovery.Target{tgt}, testConfig(false))

	assert.Equal(t, 1, count)
	assert.Equal(t, 1, p.Size())
	assert.Equal(t, []string{"31905:abc"}, p.Keys())

	conn := d.conn(tgt.WebSocketDebuggerURL)
	require.NotNil(t, conn)
	assert.Equal(t, 1, conn.sentScript())
	assert.Equal(t, 1, conn.sentExprContaining(".start("))
}

func TestReconcile_InjectsOncePropagatesConfig(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 10, nil)
	tgt := target(31905, "abc")
	targets := []discovery.Target{tgt}

	p.Reconcile(context.Background(), targets, testConfig(false))
	p.Reconcile(context.Background(), targets, testConfig(true))
	p.Reconcile(context.Background(), targets, testConfig(true))

	conn := d.conn(tgt.WebSocketDebuggerURL)
	// The full script body travels exactly once; later passes send only the
	// targeted hot-field updates.
	assert.Equal(t, 1, conn.sentScript())
	assert.Equal(t, 1, conn.sentExprContaining(".start("))
	assert.Equal(t, 2, conn.sentExprContaining("setAcceptAll(true)"))
	assert.Equal(t, 2, conn.sentExprContaining("setPollInterval(3000)"))
	assert.Equal(t, 1, d.dials)
}

func TestReconcile_PropagatesPollInterval(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 10, nil)
	tgt := target(31905, "abc")
	targets := []discovery.Target{tgt}

	p.Reconcile(context.Background(), targets, testConfig(false))

	// The interval changes between passes; the running page must see the new
	// value without a re-injection.
	changed := monitor.NewConfig(10*time.Second, 2*time.Second, false, nil)
	p.Reconcile(context.Background(), targets, changed)

	conn := d.conn(tgt.WebSocketDebuggerURL)
	assert.Equal(t, 1, conn.sentScript())
	assert.Equal(t, 1, conn.sentExprContaining("setPollInterval(10000)"))
}

func TestReconcile_RetriesFailedInjection(t *testing.T) {
	t.Parallel()

	tgt := target(31905, "abc")

	// First pass: the page rejects every evaluate, so injection fails but
	// the connection stays pooled and uninjected.
	pending := &fakeConn{evalErr: errors.New("context destroyed")}
	scripted := &scriptedDialer{conn: pending}
	p := New(scripted, 10, nil)

	count := p.Reconcile(context.Background(), []discovery.Target{tgt}, testConfig(false))
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, pending.sentScript())

	// Second pass: page recovered; injection is retried, not skipped.
	pending.mu.Lock()
	pending.evalErr = nil
	pending.mu.Unlock()

	p.Reconcile(context.Background(), []discovery.Target{tgt}, testConfig(false))
	assert.Equal(t, 2, pending.sentScript())
	assert.Equal(t, 1, scripted.dials, "no redial for a pooled connection")
}

// scriptedDialer always returns the same conn.
type scriptedDialer struct {
	conn  *fakeConn
	dials int
}

func (d *scriptedDialer) Dial(context.Context, string) (Conn, error) {
	d.dials++
	return d.conn, nil
}

func TestReconcile_DropsDeadConnections(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 10, nil)
	tgt := target(31905, "abc")

	p.Reconcile(context.Background(), []discovery.Target{tgt}, testConfig(false))
	require.Equal(t, 1, p.Size())

	// Channel dies between passes; the entry is dropped, then redialed
	// because the target is still discovered.
	d.conn(tgt.WebSocketDebuggerURL).Close()
	count := p.Reconcile(context.Background(), []discovery.Target{tgt}, testConfig(false))
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, d.dials)
}

func TestReconcile_DialFailureSkipsTarget(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	good := target(31905, "abc")
	bad := target(31906, "def")
	d.fail[bad.WebSocketDebuggerURL] = true

	p := New(d, 10, nil)
	count := p.Reconcile(context.Background(), []discovery.Target{good, bad}, testConfig(false))

	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"31905:abc"}, p.Keys())
}

// stallingDialer blocks inside Dial until released.
type stallingDialer struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (d *stallingDialer) Dial(context.Context, string) (Conn, error) {
	d.once.Do(func() { close(d.entered) })
	<-d.release
	return &fakeConn{}, nil
}

func TestReconcile_PoolStaysResponsiveDuringDial(t *testing.T) {
	t.Parallel()

	d := &stallingDialer{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := New(d, 10, nil)

	reconciled := make(chan int, 1)
	go func() {
		reconciled <- p.Reconcile(context.Background(), []discovery.Target{target(31905, "abc")}, testConfig(false))
	}()
	<-d.entered

	// Size and Keys must answer while the dial is still in flight.
	answered := make(chan struct{})
	go func() {
		assert.Equal(t, 0, p.Size())
		assert.Empty(t, p.Keys())
		close(answered)
	}()
	select {
	case <-answered:
	case <-time.After(2 * time.Second):
		t.Fatal("Size/Keys blocked behind an in-flight dial")
	}

	close(d.release)
	assert.Equal(t, 1, <-reconciled)
}

func TestReconcile_CapacityNeverExceeded(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 2, nil)

	for i := 0; i < 5; i++ {
		targets := []discovery.Target{target(31900+i, fmt.Sprintf("t%d", i))}
		p.Reconcile(context.Background(), targets, testConfig(false))
		assert.LessOrEqual(t, p.Size(), 2)
		// Distinct connectedAt timestamps keep eviction order observable.
		time.Sleep(2 * time.Millisecond)
	}
}

func TestReconcile_EvictsOldest(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 2, nil)

	first := target(31901, "first")
	second := target(31902, "second")
	third := target(31903, "third")

	p.Reconcile(context.Background(), []discovery.Target{first}, testConfig(false))
	time.Sleep(2 * time.Millisecond)
	p.Reconcile(context.Background(), []discovery.Target{first, second}, testConfig(false))
	time.Sleep(2 * time.Millisecond)
	p.Reconcile(context.Background(), []discovery.Target{first, second, third}, testConfig(false))

	// Oldest (first) is gone; newcomer admitted.
	keys := p.Keys()
	assert.NotContains(t, keys, "31901:first")
	assert.Contains(t, keys, "31902:second")
	assert.Contains(t, keys, "31903:third")

	// The evicted page got a best-effort stop before its channel closed.
	evicted := d.conn(first.WebSocketDebuggerURL)
	evicted.mu.Lock()
	defer evicted.mu.Unlock()
	assert.Contains(t, evicted.fires, monitor.StopExpr())
	assert.True(t, evicted.closed)
}

func TestStats_SumsAcrossConnections(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 10, nil)
	a := target(31905, "a")
	b := target(31906, "b")

	p.Reconcile(context.Background(), []discovery.Target{a, b}, testConfig(false))
	d.conn(a.WebSocketDebuggerURL).statsVal = &monitor.Stats{Clicks: 2, Blocked: 1}
	d.conn(b.WebSocketDebuggerURL).statsVal = &monitor.Stats{Clicks: 3, AcceptAllClicks: 4}

	stats := p.Stats(context.Background())
	assert.Equal(t, monitor.Stats{Clicks: 5, Blocked: 1, AcceptAllClicks: 4}, stats)
}

func TestStats_FreshPool(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 10, nil)
	tgt := target(31905, "abc")

	p.Reconcile(context.Background(), []discovery.Target{tgt}, testConfig(false))
	d.conn(tgt.WebSocketDebuggerURL).statsVal = &monitor.Stats{}

	assert.Equal(t, monitor.Stats{}, p.Stats(context.Background()))
}

func TestStats_SkipsFailingRealms(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 10, nil)
	a := target(31905, "a")
	b := target(31906, "b")

	p.Reconcile(context.Background(), []discovery.Target{a, b}, testConfig(false))
	d.conn(a.WebSocketDebuggerURL).statsVal = &monitor.Stats{Clicks: 7}
	bc := d.conn(b.WebSocketDebuggerURL)
	bc.mu.Lock()
	bc.evalErr = errors.New("gone")
	bc.mu.Unlock()

	stats := p.Stats(context.Background())
	assert.Equal(t, monitor.Stats{Clicks: 7}, stats)
}

func TestStop_SignalsMonitorsAndClears(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 10, nil)
	a := target(31905, "a")
	b := target(31906, "b")

	p.Reconcile(context.Background(), []discovery.Target{a, b}, testConfig(false))
	p.Stop(context.Background())

	assert.Equal(t, 0, p.Size())
	for _, tgt := range []discovery.Target{a, b} {
		conn := d.conn(tgt.WebSocketDebuggerURL)
		conn.mu.Lock()
		assert.Contains(t, conn.fires, monitor.StopExpr())
		assert.True(t, conn.closed)
		conn.mu.Unlock()
	}

	// Stopping an empty pool is a no-op.
	p.Stop(context.Background())
	assert.Equal(t, 0, p.Size())
}

func TestResetStats_ReachesEveryConnection(t *testing.T) {
	t.Parallel()

	d := newFakeDialer()
	p := New(d, 10, nil)
	a := target(31905, "a")
	b := target(31906, "b")

	p.Reconcile(context.Background(), []discovery.Target{a, b}, testConfig(false))
	p.ResetStats(context.Background())

	for _, tgt := range []discovery.Target{a, b} {
		conn := d.conn(tgt.WebSocketDebuggerURL)
		assert.Equal(t, 1, conn.sentExprContaining("resetStats()"))
	}
}
