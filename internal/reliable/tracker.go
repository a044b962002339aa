// Package reliable implements the reliable-send tracker:
// it maps outstanding packet ids to pending direct messages, correlates
// inbound ack/fail events back to the original send, and drives
// exponential-backoff retries via github.com/cenkalti/backoff, with all
// bookkeeping keyed by packet id behind a single mutex.
package reliable

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/smartyhall/meshbbs/internal/logging"
	"github.com/smartyhall/meshbbs/internal/metrics"
)

// PendingSend is a direct message awaiting acknowledgement. Owned
// exclusively by Tracker; callers never mutate it directly.
type PendingSend struct {
	PacketID uint32
	Destination uint32
	Body string
	SentAt time.Time
	Attempts int
	MaxAttempts int

	backoff *backoff.ExponentialBackOff
	nextAttempt time.Time
}

// RetryRequest is returned by Tick for a PendingSend whose backoff has
// elapsed and which still has attempt budget remaining.
type RetryRequest struct {
	PacketID uint32
	Destination uint32
	Body string
	Attempt int
}

// Config holds the backoff parameters.
type Config struct {
	BaseBackoff time.Duration // doubled per attempt
	MaxBackoff time.Duration // cap
}

// Tracker correlates packet ids to PendingSend entries and exposes an
// immutable metrics Snapshot. All operations are safe for concurrent use.
type Tracker struct {
	cfg Config

	mu sync.Mutex
	pending map[uint32]*PendingSend

	ackLatencyMu sync.Mutex
	ackCount uint64
	ackLatencySum time.Duration
}

// New constructs a Tracker.
func New(cfg Config) *Tracker {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	return &Tracker{cfg: cfg, pending: make(map[uint32]*PendingSend)}
}

func (t *Tracker) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.BaseBackoff
	b.MaxInterval = t.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // Tracker enforces MaxAttempts itself, not elapsed time
	b.Reset()
	return b
}

// Register creates a PendingSend for packetID. every
// PendingSend has a unique packet_id never reused within its lifetime; the
// writer is responsible for that uniqueness, Register merely trusts it.
func (t *Tracker) Register(packetID, destination uint32, body string, maxAttempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[packetID] = &PendingSend{
		PacketID: packetID,
		Destination: destination,
		Body: body,
		SentAt: time.Now(),
		Attempts: 1,
		MaxAttempts: maxAttempts,
		backoff: t.newBackoff(),
	}
	metrics.IncReliableSent()
}

// OnAck retires packetID successfully, recording ack latency. Unknown ids
// are ignored (the ack may have arrived after a prior retirement, or for a
// send this process never registered).
func (t *Tracker) OnAck(packetID uint32) {
	t.mu.Lock()
	p, ok := t.pending[packetID]
	if ok {
		delete(t.pending, packetID)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	latency := time.Since(p.SentAt)
	t.ackLatencyMu.Lock()
	t.ackCount++
	t.ackLatencySum += latency
	avg := t.ackLatencySum / time.Duration(t.ackCount)
	t.ackLatencyMu.Unlock()
	metrics.IncReliableAcked()
	metrics.SetAckLatencyAvgMs(uint64(avg.Milliseconds()))
}

// OnFail consults attempts vs. max_attempts. If budget remains it schedules
// a backoff retry; otherwise the PendingSend is retired permanently.
func (t *Tracker) OnFail(packetID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[packetID]
	if !ok {
		return
	}
	if p.Attempts >= p.MaxAttempts {
		delete(t.pending, packetID)
		metrics.IncReliableFailed()
		logging.L().Warn("reliable_send_exhausted", "packet_id", packetID, "attempts", p.Attempts)
		return
	}
	p.nextAttempt = time.Now().Add(p.backoff.NextBackOff())
}

// Tick scans for PendingSends whose backoff has elapsed and returns the
// retries the caller (the writer, via the scheduler) should re-enqueue.
// Entries not yet due are left untouched.
func (t *Tracker) Tick(now time.Time) []RetryRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var due []RetryRequest
	for _, p := range t.pending {
		if p.nextAttempt.IsZero() || now.Before(p.nextAttempt) {
			continue
		}
		p.Attempts++
		p.SentAt = now
		p.nextAttempt = time.Time{}
		due = append(due, RetryRequest{
				PacketID: p.PacketID,
				Destination: p.Destination,
				Body: p.Body,
				Attempt: p.Attempts,
			})
		metrics.IncReliableRetries()
	}
	return due
}

// Len reports the number of currently outstanding PendingSends.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
