// Package monitor – expr.go builds the expressions the pool evaluates
// against a page to drive its monitor instance.
package monitor

import (
	"encoding/json"
	"fmt"
)

// globalName is the window property holding the injected runtime. Its
// presence doubles as the duplicate-injection guard.
const globalName = "window.__retrywatch"

// InjectExpr returns the full monitor script. It is sent once per
// connection lifetime; re-evaluating it in a realm that already carries the
// runtime is a no-op.
func InjectExpr() string {
	return script
}

// StartExpr merges cfg into the monitor's config and starts scanning.
func StartExpr(cfg Config) string {
	// Config marshals from plain fields; this cannot fail.
	data, _ := json.Marshal(cfg)
	return fmt.Sprintf("%s && %s.start(%s)", globalName, globalName, data)
}

// StopExpr halts scanning: timers cancelled, observers disconnected, the
// enumeration cache dropped, and the loaded marker cleared so a later
// re-injection is accepted.
func StopExpr() string {
	return fmt.Sprintf("%s && %s.stop()", globalName, globalName)
}

// StatsExpr returns the realm's counters, stringified so the reply survives
// the evaluate value envelope. Yields the string "null" when the monitor is
// not loaded.
func StatsExpr() string {
	return fmt.Sprintf("%s ? JSON.stringify(%s.getStats()) : 'null'", globalName, globalName)
}

// ResetStatsExpr zeroes the realm's counters.
func ResetStatsExpr() string {
	return fmt.Sprintf("%s && %s.resetStats()", globalName, globalName)
}

// SetAcceptAllExpr hot-updates the accept-all toggle without re-injecting.
func SetAcceptAllExpr(enabled bool) string {
	return fmt.Sprintf("%s && %s.setAcceptAll(%t)", globalName, globalName, enabled)
}

// SetPollIntervalExpr hot-updates the poll interval; a running monitor
// restarts its timer with the new period.
func SetPollIntervalExpr(ms int) string {
	return fmt.Sprintf("%s && %s.setPollInterval(%d)", globalName, globalName, ms)
}
