package meshtastic

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenPort opens the named serial device at the given baud rate. It gives
// an empty name no special meaning. No-op device mode comes from the
// caller checking for an empty name and constructing a Device with a nil
// Port instead of calling OpenPort, which keeps scheduling logic identical
// and only changes the final write step.
func OpenPort(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}
