// Package watcher – notifier.go defines the notification sink consumed by
// the status-bar / sidebar collaborator.
package watcher

import (
	"log/slog"

	"github.com/jholhewres/retrywatch/pkg/retrywatch/monitor"
)

// Severity classifies a notification line.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Notifier receives user-visible state changes. Implementations must not
// block; the watcher calls them from its tick goroutines.
type Notifier interface {
	// Notify delivers a human-readable message about degraded or changed
	// state, e.g. "no connections found".
	Notify(message string, severity Severity)

	// NotifyStats delivers a fresh aggregate after the click count changed.
	NotifyStats(stats monitor.Stats)
}

// LogNotifier writes notifications to the log. It is the default sink when
// no UI collaborator is attached.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

func (n *LogNotifier) Notify(message string, severity Severity) {
	switch severity {
	case SeverityError:
		n.logger.Error(message)
	case SeverityWarn:
		n.logger.Warn(message)
	default:
		n.logger.Info(message)
	}
}

func (n *LogNotifier) NotifyStats(stats monitor.Stats) {
	n.logger.Info("monitor stats",
		"clicks", stats.Clicks,
		"blocked", stats.Blocked,
		"accept_all_clicks", stats.AcceptAllClicks,
	)
}
