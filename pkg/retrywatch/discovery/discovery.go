// Package discovery – discovery.go locates debuggable IDE pages by probing a
// small range of local remote-debugging ports.
//
// Chromium-based editors expose the DevTools HTTP endpoint on a per-instance
// port, and the exact port shifts between launches, so Retrywatch scans
// [base-radius, base+radius] instead of assuming a fixed one. Each port is
// probed via GET /json/list; the reply is a JSON array of target descriptors
// of which only pages and webviews with a live WebSocket URL are usable.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// probeTimeout bounds a single /json/list request. Ports with nothing
// listening fail fast; a hung listener must not stall the whole scan.
const probeTimeout = 2 * time.Second

// Target is one debuggable page or webview exposed by an endpoint.
type Target struct {
	Port                 int    `json:"-"`
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Key returns the pool identifier for this target, unique across ports.
func (t Target) Key() string {
	return fmt.Sprintf("%d:%s", t.Port, t.ID)
}

// Scanner probes local ports for debuggable targets.
type Scanner struct {
	client *http.Client
	logger *slog.Logger
}

// NewScanner creates a scanner. A nil logger falls back to slog.Default().
func NewScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		client: &http.Client{Timeout: probeTimeout},
		logger: logger.With("component", "discovery"),
	}
}

// Scan probes every port in [basePort-radius, basePort+radius] and returns
// all eligible targets. A port that is closed, slow, or returns garbage
// contributes nothing; the scan itself never fails.
func (s *Scanner) Scan(ctx context.Context, basePort, radius int) []Target {
	var targets []Target
	for port := basePort - radius; port <= basePort+radius; port++ {
		if port < 1 || port > 65535 {
			continue
		}
		found, err := s.probe(ctx, port)
		if err != nil {
			s.logger.Debug("port probe failed", "port", port, "error", err)
			continue
		}
		targets = append(targets, found...)
	}
	return targets
}

// probe queries one port's /json/list endpoint and filters the reply.
func (s *Scanner) probe(ctx context.Context, port int) ([]Target, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/json/list", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var raw []Target
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse targets: %w", err)
	}

	var targets []Target
	for _, t := range raw {
		if !eligible(t) {
			continue
		}
		t.Port = port
		targets = append(targets, t)
	}
	return targets, nil
}

// eligible keeps targets that can actually host the monitor: real documents
// with a reachable debug channel. Workers, extensions and detached targets
// are skipped.
func eligible(t Target) bool {
	if t.WebSocketDebuggerURL == "" {
		return false
	}
	return t.Type == "page" || t.Type == "webview"
}
