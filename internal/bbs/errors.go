package bbs

import (
	"errors"

	"github.com/smartyhall/meshbbs/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrDispatch   = errors.New("dispatch")
	ErrDeviceGone = errors.New("device_unavailable")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels, following
// the server-core's habit of keeping the error taxonomy separate from the
// metrics label taxonomy.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrDeviceGone):
		return metrics.ErrRadioWrite
	case errors.Is(err, ErrDispatch):
		return metrics.ErrScheduler
	default:
		return "other"
	}
}
