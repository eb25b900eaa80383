// Package monitor defines the in-page monitor Retrywatch injects into each
// IDE document, plus the Go-side control surface for it.
//
// The monitor is a self-contained JavaScript runtime object
// (window.__retrywatch) that scans the document, including nested iframes
// and shadow roots, for agent "Retry" buttons sitting inside an error
// context, and clicks them unless the danger gate finds a banned command in
// the adjacent terminal output. The Go side never manipulates the DOM
// directly; it only evaluates the control expressions built here.
package monitor

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultBannedCommands is the built-in danger-gate list. A retry click is
// suppressed when the nearest command container matches any entry,
// case-insensitively. Config may override the list but an empty override
// keeps these.
var DefaultBannedCommands = []string{
	"rm -rf /",
	"rm -rf ~",
	"rm -rf *",
	"rm -fr /",
	"mkfs",
	"dd if=",
	"dd of=/dev/",
	":(){ :|:& };:",
	"> /dev/sda",
	"chmod -r 777 /",
	"chmod 777 /",
	"format c:",
	"del /f /s /q c:\\",
}

// Config is the subset of settings the monitor consumes. It is serialized
// into the start expression and merged into the in-page config object.
type Config struct {
	PollIntervalMs int      `json:"pollIntervalMs"`
	CooldownMs     int      `json:"cooldownMs"`
	AcceptAll      bool     `json:"acceptAll"`
	BannedCommands []string `json:"bannedCommands"`
}

// NewConfig builds a monitor config from watcher-level settings, filling in
// the built-in banned list when no override is given.
func NewConfig(pollInterval, cooldown time.Duration, acceptAll bool, banned []string) Config {
	if len(banned) == 0 {
		banned = DefaultBannedCommands
	}
	return Config{
		PollIntervalMs: int(pollInterval.Milliseconds()),
		CooldownMs:     int(cooldown.Milliseconds()),
		AcceptAll:      acceptAll,
		BannedCommands: banned,
	}
}

// Stats are the monitor's counters for one document realm.
type Stats struct {
	Clicks          int64 `json:"clicks"`
	Blocked         int64 `json:"blocked"`
	AcceptAllClicks int64 `json:"acceptAllClicks"`
}

// Add accumulates another realm's counters into s.
func (s *Stats) Add(other Stats) {
	s.Clicks += other.Clicks
	s.Blocked += other.Blocked
	s.AcceptAllClicks += other.AcceptAllClicks
}

// ParseStats decodes a Runtime.evaluate result carrying the JSON string the
// stats expression produces. The CDP envelope is {result:{type,value}}; the
// value is null when the monitor is not loaded in that realm.
func ParseStats(raw json.RawMessage) (Stats, error) {
	var envelope struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Stats{}, fmt.Errorf("parse evaluate envelope: %w", err)
	}
	if len(envelope.Result.Value) == 0 {
		return Stats{}, fmt.Errorf("evaluate result carried no value")
	}

	// The expression returns JSON.stringify output, so the value is a string
	// containing JSON (or the literal null when the monitor is absent).
	var text string
	if err := json.Unmarshal(envelope.Result.Value, &text); err != nil {
		return Stats{}, fmt.Errorf("stats value not a string: %w", err)
	}
	if text == "" || text == "null" {
		return Stats{}, fmt.Errorf("monitor not loaded")
	}

	var stats Stats
	if err := json.Unmarshal([]byte(text), &stats); err != nil {
		return Stats{}, fmt.Errorf("parse stats: %w", err)
	}
	return stats, nil
}
