// Package cdp – client.go implements the DevTools-protocol client Retrywatch
// uses to talk to IDE pages.
//
// Each debuggable page gets one persistent WebSocket. Requests are tagged
// with a monotonically increasing id and correlated with their replies by a
// dedicated reader goroutine, so concurrent calls on the same channel may
// resolve out of send order but each resolves to its own reply exactly once.
//
// Lifecycle:
//
//	Dialer.Dial ──▶ Conn (open) ──Evaluate──▶ page
//	                  │
//	                  └─ Close / remote close ──▶ all pending calls fail
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DialTimeout bounds the WebSocket handshake.
	DialTimeout = 5 * time.Second

	// CallTimeout bounds one evaluate round-trip.
	CallTimeout = 5 * time.Second
)

var (
	// ErrConnClosed is returned for calls issued on, or in flight over, a
	// channel that has been torn down. Pending calls are failed immediately
	// on close rather than left to time out.
	ErrConnClosed = errors.New("cdp: connection closed")

	// ErrCallTimeout is returned when a reply does not arrive in time.
	ErrCallTimeout = errors.New("cdp: call timed out")
)

// Dialer opens page connections. It owns the request-id counter, so ids are
// unique across every connection it produced.
type Dialer struct {
	nextID atomic.Int64
	logger *slog.Logger
}

// NewDialer creates a dialer. A nil logger falls back to slog.Default().
func NewDialer(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{logger: logger.With("component", "cdp")}
}

// Dial opens a channel to a page's WebSocket debugger URL with a bounded
// wait. On failure the socket is never left half-open.
func (d *Dialer) Dial(ctx context.Context, wsURL string) (*Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cdp dial %s: %w", wsURL, err)
	}

	c := &Conn{
		ws:          ws,
		ids:         &d.nextID,
		callTimeout: CallTimeout,
		pending:     make(map[int64]chan reply),
		closed:      make(chan struct{}),
		logger:      d.logger.With("remote", wsURL),
	}
	go c.readLoop()
	return c, nil
}

// reply is one correlated response, success or protocol error.
type reply struct {
	result json.RawMessage
	err    error
}

// Conn is a live channel to one page.
type Conn struct {
	ws          *websocket.Conn
	ids         *atomic.Int64
	callTimeout time.Duration
	logger      *slog.Logger

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	// mu protects pending.
	mu      sync.Mutex
	pending map[int64]chan reply

	closeOnce sync.Once
	closed    chan struct{}
}

// request is the wire shape of an outgoing command.
type request struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// response is the wire shape of an incoming frame. Frames without an id are
// protocol events and are skipped.
type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Evaluate runs a JavaScript expression in the page and returns the raw
// Runtime.evaluate result object. userGesture lets the expression perform
// click-like actions; awaitPromise resolves async expressions.
func (c *Conn) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	return c.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":   expression,
		"userGesture":  true,
		"awaitPromise": true,
	})
}

// Call sends one command and waits for its correlated reply, CallTimeout at
// most. Exactly one waiter fires per call and it is always deregistered on
// completion, whether it resolved, timed out, or the channel died.
func (c *Conn) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	select {
	case <-c.closed:
		return nil, ErrConnClosed
	default:
	}

	id := c.ids.Add(1)
	ch := make(chan reply, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(request{ID: id, Method: method, Params: params}); err != nil {
		c.unregister(id)
		return nil, fmt.Errorf("cdp write: %w", err)
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.result, r.err
	case <-timer.C:
		c.unregister(id)
		return nil, ErrCallTimeout
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	case <-c.closed:
		// readLoop fails pending calls on close, but the call may have
		// registered after the loop drained the map.
		c.unregister(id)
		return nil, ErrConnClosed
	}
}

// Fire sends a command without waiting for the reply. Used for best-effort
// signals like asking an evicted page's monitor to stop.
func (c *Conn) Fire(method string, params map[string]any) {
	id := c.ids.Add(1)
	if err := c.write(request{ID: id, Method: method, Params: params}); err != nil {
		c.logger.Debug("fire-and-forget write failed", "method", method, "error", err)
	}
}

// FireEvaluate sends an evaluate expression without waiting for the reply.
func (c *Conn) FireEvaluate(expression string) {
	c.Fire("Runtime.evaluate", map[string]any{"expression": expression})
}

// Close tears the channel down and fails every pending call. Safe to call
// more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
		c.failPending(ErrConnClosed)
	})
}

// Closed reports whether the channel is no longer usable, either because
// Close was called or the remote end went away.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Done is closed when the connection terminates.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) write(req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(req)
}

// readLoop is the single reader for this channel. It dispatches correlated
// replies and skips everything else: protocol events, replies to
// fire-and-forget commands, and frames that do not parse (unrelated traffic
// may share the channel).
func (c *Conn) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Debug("channel closed", "error", err)
			return
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.ID == 0 {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		if resp.Error != nil {
			ch <- reply{err: fmt.Errorf("cdp: remote error: %s", resp.Error.Message)}
			continue
		}
		ch <- reply{result: resp.Result}
	}
}

// unregister drops one pending call, e.g. after its timeout fired.
func (c *Conn) unregister(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPending resolves every outstanding call with err.
func (c *Conn) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- reply{err: err}
	}
}
