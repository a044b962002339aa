package logging

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Global structured logger. Initialized with a reasonable text handler.
var logger atomic.Pointer[slog.Logger]

// Global security logger, distinct from the main logger so
// AuthFailure/PermissionDenied events can be routed to their own file
// without polluting operational logs. Falls
// back to the main logger until SetSecurity is called.
var securityLogger atomic.Pointer[slog.Logger]

func init() {
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Store(l)
	securityLogger.Store(l)
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Security returns the current global security-events logger.
func Security() *slog.Logger { return securityLogger.Load() }

// Set replaces the global logger.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// SetSecurity replaces the global security-events logger.
func SetSecurity(l *slog.Logger) {
	if l != nil {
		securityLogger.Store(l)
	}
}

// New creates a new logger with given level, format ("text" or "json"), and optional writer (defaults stderr).
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var h slog.Handler
	switch format {
	case "json":
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h)
}

// ForNode returns a logger with a "node_id" attribute attached, used
// throughout the session and device paths to correlate a sequence of log
// lines with one radio node without repeating the attribute at each call
// site.
func ForNode(l *slog.Logger, nodeID string) *slog.Logger {
	if l == nil {
		l = L()
	}
	return l.With("node_id", nodeID)
}
