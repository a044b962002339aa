package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/smartyhall/meshbbs/internal/meshtastic"
)

// openRadioPort is a hook for tests (overridden in config/backend tests).
var openRadioPort = meshtastic.OpenPort

// initPort opens the configured serial device, or returns a nil Port for
// no-op/test mode when cfg.port is empty.
func initPort(cfg *appConfig, l *slog.Logger) (meshtastic.Port, error) {
	if cfg.port == "" {
		l.Info("radio_noop_mode")
		return nil, nil
	}
	p, err := openRadioPort(cfg.port, cfg.baudRate, 50*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("open radio port: %w", err)
	}
	l.Info("radio_open", "port", cfg.port, "baud", cfg.baudRate)
	return p, nil
}
