package reliable

import (
	"testing"
	"time"

	"github.com/smartyhall/meshbbs/internal/metrics"
)

func TestOnAckRetiresPending(t *testing.T) {
	tr := New(Config{BaseBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond})
	tr.Register(1, 42, "hello", 3)
	if tr.Len() != 1 {
		t.Fatalf("expected 1 pending, got %d", tr.Len())
	}
	tr.OnAck(1)
	if tr.Len() != 0 {
		t.Fatalf("expected ack to retire pending, got %d", tr.Len())
	}
	// unknown id is a no-op, not a panic
	tr.OnAck(999)
}

func TestOnFailSchedulesRetryUntilExhausted(t *testing.T) {
	tr := New(Config{BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	tr.Register(7, 1, "msg", 2)

	tr.OnFail(7)
	if tr.Len() != 1 {
		t.Fatalf("expected pending to survive first fail with budget remaining")
	}
	time.Sleep(10 * time.Millisecond)
	due := tr.Tick(time.Now())
	if len(due) != 1 || due[0].PacketID != 7 {
		t.Fatalf("expected one due retry for packet 7, got %+v", due)
	}
	if due[0].Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", due[0].Attempt)
	}

	// second failure exhausts max_attempts=2
	tr.OnFail(7)
	if tr.Len() != 0 {
		t.Fatalf("expected pending retired after exhausting attempts, got %d", tr.Len())
	}
}

func TestTickIgnoresNotYetDue(t *testing.T) {
	tr := New(Config{BaseBackoff: time.Hour, MaxBackoff: time.Hour})
	tr.Register(3, 1, "msg", 5)
	tr.OnFail(3)
	due := tr.Tick(time.Now())
	if len(due) != 0 {
		t.Fatalf("expected no due retries before backoff elapses, got %d", len(due))
	}
}

func TestMonotoneMetricsInvariant(t *testing.T) {
	tr := New(Config{BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	before := metrics.Snap()
	for i := uint32(1); i <= 5; i++ {
		tr.Register(i, 1, "m", 1)
	}
	for i := uint32(1); i <= 3; i++ {
		tr.OnAck(i)
	}
	for i := uint32(4); i <= 5; i++ {
		tr.OnFail(i) // max_attempts=1, so this exhausts immediately
	}
	if tr.Len() != 0 {
		t.Fatalf("expected all pending retired, got %d", tr.Len())
	}
	after := metrics.Snap()
	if after.ReliableAcked > after.ReliableSent {
		t.Fatalf("expected reliable_acked <= reliable_sent, got acked=%d sent=%d", after.ReliableAcked, after.ReliableSent)
	}
	sent := after.ReliableSent - before.ReliableSent
	acked := after.ReliableAcked - before.ReliableAcked
	failed := after.ReliableFailed - before.ReliableFailed
	if sent != 5 || acked != 3 || failed != 2 {
		t.Fatalf("expected sent/acked/failed deltas 5/3/2, got %d/%d/%d", sent, acked, failed)
	}
}
