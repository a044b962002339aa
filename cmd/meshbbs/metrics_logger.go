package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smartyhall/meshbbs/internal/metrics"
)

// startMetricsLogger periodically logs a metrics snapshot, for
// deployments without a Prometheus scraper.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				args := []any{
					"radio_rx", snap.RadioRx,
					"radio_tx", snap.RadioTx,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
					"reliable_sent", snap.ReliableSent,
					"reliable_acked", snap.ReliableAcked,
					"reliable_failed", snap.ReliableFailed,
					"reliable_retries", snap.ReliableRetries,
					"dropped_overflow", snap.DroppedOverflow,
					"promotions", snap.Promotions,
					"dispatched", snap.Dispatched,
					"sessions_active", snap.SessionsActive,
					"cooldown_blocked", snap.CooldownBlocked,
				}
				if snap.AckLatencyAvgMs != nil {
					args = append(args, "ack_latency_avg_ms", *snap.AckLatencyAvgMs)
				}
				l.Info("metrics_snapshot", args...)
			case <-ctx.Done():
				return
			}
		}
	}()
}
