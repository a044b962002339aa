package main

import (
	"log/slog"
	"os"

	"github.com/smartyhall/meshbbs/internal/logging"
)

// setupLogger builds the operational logger from format/level/file and
// installs it as the package-wide global.
func setupLogger(format, level, file string) *slog.Logger {
	l := logging.New(format, parseLevel(level), openLogFile(file))
	l = l.With("app", "meshbbs")
	logging.Set(l)
	return l
}

// setupSecurityLogger builds the AuthFailure/PermissionDenied logger,
// writing to its own file when one is configured and falling back to the
// operational logger otherwise.
func setupSecurityLogger(format, level, securityFile string) *slog.Logger {
	if securityFile == "" {
		sec := logging.L().With("stream", "security")
		logging.SetSecurity(sec)
		return sec
	}
	sec := logging.New(format, parseLevel(level), openLogFile(securityFile)).With("stream", "security")
	logging.SetSecurity(sec)
	return sec
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openLogFile opens path for appending, falling back to stderr when path
// is empty or can't be opened; a logger that can't start because its log
// file is unwritable would defeat its own purpose.
func openLogFile(path string) *os.File {
	if path == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr
	}
	return f
}
