package bbs

import (
	"context"
	"time"

	"github.com/smartyhall/meshbbs/internal/meshtastic"
	"github.com/smartyhall/meshbbs/internal/scheduler"
	"github.com/smartyhall/meshbbs/internal/session"
)

// TestCaptured returns the messages the device recorded in no-op/test
// mode (port == nil to New). Used by tests to assert on what actually
// reached the radio, as opposed to what was merely admitted to the
// scheduler. The device records messages from its own writer goroutine,
// so this waits (up to one second) until it has recorded as many
// messages as the scheduler has dispatched.
func (s *Server) TestCaptured() []meshtastic.OutgoingMessage {
	want := int(s.scheduler.Snapshot().DispatchedTotl)
	deadline := time.Now().Add(time.Second)
	for {
		got := s.device.TestCaptured()
		if len(got) >= want || time.Now().After(deadline) {
			return got
		}
		time.Sleep(time.Millisecond)
	}
}

// TestInjectText feeds a synthetic TextEvent straight through
// RouteTextEvent, bypassing the framer/device entirely. Exercises the same routing code path
// production traffic uses.
func (s *Server) TestInjectText(ev meshtastic.TextEvent) error {
	return s.RouteTextEvent(context.Background(), &ev)
}

// TestInsertSession installs a pre-built session, keyed by node id, so
// tests can start a scenario mid-flow instead of replaying every prior
// step.
func (s *Server) TestInsertSession(sess *session.Session) {
	s.sessions.Insert(sess)
}

// TestSession returns the session for nodeID, creating one if absent.
func (s *Server) TestSession(nodeID string) *session.Session {
	return s.sessions.GetOrCreate(nodeID)
}

// TestPumpAll drains every currently-eligible scheduled message into the
// device, returning how many were dispatched. Used by tests that don't
// want to hand-roll a ticker loop.
func (s *Server) TestPumpAll(now time.Time) int {
	n := 0
	for s.Pump(now) {
		n++
	}
	return n
}

// TestSchedulerSnapshot exposes the transmit scheduler's internal
// counters (queue depth by class, drops, promotions) for test assertions.
func (s *Server) TestSchedulerSnapshot() scheduler.Snapshot {
	return s.scheduler.Snapshot()
}
