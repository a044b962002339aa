// Package metrics exposes a single process-wide metrics snapshotter
// holding monotone atomic counters alongside Prometheus gauges, so callers
// needing a cheap in-process read (the test harness, the periodic metrics
// logger) never have to scrape.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smartyhall/meshbbs/internal/logging"
)

var (
	RadioRxFrames = promauto.NewCounter(prometheus.CounterOpts{
			Name: "radio_rx_frames_total",
			Help: "Total frames decoded from the serial radio link.",
		})
	RadioTxFrames = promauto.NewCounter(prometheus.CounterOpts{
			Name: "radio_tx_frames_total",
			Help: "Total frames written to the serial radio link.",
		})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
			Name: "malformed_frames_total",
			Help: "Total frames rejected by the payload codec's decoder.",
		})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Error counters by subsystem.",
		}, []string{"where"})

	ReliableSent = promauto.NewCounter(prometheus.CounterOpts{
			Name: "reliable_sent_total",
			Help: "Direct messages registered with the reliable-send tracker.",
		})
	ReliableAcked = promauto.NewCounter(prometheus.CounterOpts{
			Name: "reliable_acked_total",
			Help: "Reliable sends that received an acknowledgement.",
		})
	ReliableFailed = promauto.NewCounter(prometheus.CounterOpts{
			Name: "reliable_failed_total",
			Help: "Reliable sends that exhausted their retry budget.",
		})
	ReliableRetries = promauto.NewCounter(prometheus.CounterOpts{
			Name: "reliable_retries_total",
			Help: "Retry attempts issued by the reliable-send tracker.",
		})
	AckLatencyAvgMs = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ack_latency_avg_ms",
			Help: "Running average ack latency in milliseconds.",
		})

	SchedulerDroppedOverflow = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_dropped_overflow_total",
			Help: "Items dropped by the transmit scheduler's overflow policy.",
		})
	SchedulerPromotions = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_promotions_total",
			Help: "Items promoted a priority class by fairness aging.",
		})
	SchedulerDispatched = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_dispatched_total",
			Help: "Items dispatched by the transmit scheduler.",
		})
	SchedulerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scheduler_queue_depth",
			Help: "Current queued item count by priority class.",
		}, []string{"class"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Current number of tracked sessions, logged in or not.",
		})
	PublicCooldownBlocked = promauto.NewCounter(prometheus.CounterOpts{
			Name: "public_cooldown_blocked_total",
			Help: "Public commands silently dropped due to a per-node cooldown.",
		})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1).",
		}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrRadioWrite = "radio_write"
	ErrRadioRead = "radio_read"
	ErrStore = "store"
	ErrScheduler = "scheduler"
	ErrCodecDecode = "codec_decode"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if IsReady() {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ready\n"))
				return
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready\n"))
		})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process reads.
var (
	localRadioRx uint64
	localRadioTx uint64
	localMalformed uint64
	localErrors uint64
	localReliableSent uint64
	localReliableAcked uint64
	localReliableFailed uint64
	localReliableRetries uint64
	localAckLatencyAvgMs int64 // -1 sentinel for "none"
	localSchedDropped uint64
	localSchedPromotions uint64
	localSchedDispatched uint64
	localSessionsActive uint64
	localCooldownBlocked uint64
)

func init() {
	atomic.StoreInt64(&localAckLatencyAvgMs, -1)
}

// Snapshot is a cheap, immutable copy of the local counters.
type Snapshot struct {
	RadioRx uint64
	RadioTx uint64
	Malformed uint64
	Errors uint64
	ReliableSent uint64
	ReliableAcked uint64
	ReliableFailed uint64
	ReliableRetries uint64
	AckLatencyAvgMs *uint64 // nil until at least one ack observed
	DroppedOverflow uint64
	Promotions uint64
	Dispatched uint64
	SessionsActive uint64
	CooldownBlocked uint64
}

// Snap returns the current Snapshot.
func Snap() Snapshot {
	s := Snapshot{
		RadioRx: atomic.LoadUint64(&localRadioRx),
		RadioTx: atomic.LoadUint64(&localRadioTx),
		Malformed: atomic.LoadUint64(&localMalformed),
		Errors: atomic.LoadUint64(&localErrors),
		ReliableSent: atomic.LoadUint64(&localReliableSent),
		ReliableAcked: atomic.LoadUint64(&localReliableAcked),
		ReliableFailed: atomic.LoadUint64(&localReliableFailed),
		ReliableRetries: atomic.LoadUint64(&localReliableRetries),
		DroppedOverflow: atomic.LoadUint64(&localSchedDropped),
		Promotions: atomic.LoadUint64(&localSchedPromotions),
		Dispatched: atomic.LoadUint64(&localSchedDispatched),
		SessionsActive: atomic.LoadUint64(&localSessionsActive),
		CooldownBlocked: atomic.LoadUint64(&localCooldownBlocked),
	}
	if v := atomic.LoadInt64(&localAckLatencyAvgMs); v >= 0 {
		u := uint64(v)
		s.AckLatencyAvgMs = &u
	}
	return s
}

func IncRadioRx() {
	RadioRxFrames.Inc()
	atomic.AddUint64(&localRadioRx, 1)
}

func IncRadioTx() {
	RadioTxFrames.Inc()
	atomic.AddUint64(&localRadioTx, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncReliableSent() {
	ReliableSent.Inc()
	atomic.AddUint64(&localReliableSent, 1)
}

func IncReliableAcked() {
	ReliableAcked.Inc()
	atomic.AddUint64(&localReliableAcked, 1)
}

func IncReliableFailed() {
	ReliableFailed.Inc()
	atomic.AddUint64(&localReliableFailed, 1)
}

func IncReliableRetries() {
	ReliableRetries.Inc()
	atomic.AddUint64(&localReliableRetries, 1)
}

// SetAckLatencyAvgMs records the current running average ack latency.
func SetAckLatencyAvgMs(ms uint64) {
	AckLatencyAvgMs.Set(float64(ms))
	atomic.StoreInt64(&localAckLatencyAvgMs, int64(ms))
}

func IncSchedulerDroppedOverflow() {
	SchedulerDroppedOverflow.Inc()
	atomic.AddUint64(&localSchedDropped, 1)
}

func IncSchedulerPromotions() {
	SchedulerPromotions.Inc()
	atomic.AddUint64(&localSchedPromotions, 1)
}

func IncSchedulerDispatched() {
	SchedulerDispatched.Inc()
	atomic.AddUint64(&localSchedDispatched, 1)
}

func SetSchedulerQueueDepth(class string, depth int) {
	SchedulerQueueDepth.WithLabelValues(class).Set(float64(depth))
}

func SetSessionsActive(n int) {
	SessionsActive.Set(float64(n))
	atomic.StoreUint64(&localSessionsActive, uint64(n))
}

func IncPublicCooldownBlocked() {
	PublicCooldownBlocked.Inc()
	atomic.AddUint64(&localCooldownBlocked, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers stable error
// label series so the first error does not pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrRadioWrite, ErrRadioRead, ErrStore, ErrScheduler, ErrCodecDecode} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
