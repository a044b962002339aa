// Package scheduler implements the transmit scheduler: a single-consumer
// priority queue with fairness aging, inter-packet spacing, and
// cross-class transition gaps. It sits between the session manager /
// public command layer / reliable-send tracker and the meshtastic.Device
// writer, with all mutable queue state guarded by one mutex.
package scheduler

import (
	"sync"
	"time"

	"github.com/smartyhall/meshbbs/internal/meshtastic"
	"github.com/smartyhall/meshbbs/internal/metrics"
)

// Config holds the scheduler's timing and capacity parameters.
type Config struct {
	MinSendGap time.Duration
	PostDMBroadcastGap time.Duration
	DMToDMGap time.Duration
	AgingThreshold time.Duration
	MaxQueue int
}

type item struct {
	msg meshtastic.OutgoingMessage
	priority meshtastic.Priority // mutable: may be promoted by aging
	serial uint64
}

// Snapshot is the immutable state exposed by Scheduler.Snapshot.
type Snapshot struct {
	QueuedByClass map[meshtastic.Priority]int
	DroppedOverfl uint64
	Promotions uint64
	DispatchedTotl uint64
}

// Scheduler is safe for concurrent Enqueue calls from many producers; Next
// must only be called by the single writer consumer.
type Scheduler struct {
	cfg Config

	mu sync.Mutex
	queues [3][]*item // indexed by meshtastic.Priority
	nextSeq uint64
	dropped uint64
	promoted uint64

	lastSendAt time.Time
	lastSendWasDM bool
	lastDMNode uint32
	dispatchedTotal uint64
}

// New constructs a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 256
	}
	return &Scheduler{cfg: cfg}
}

// Enqueue admits msg, applying the overflow policy: never drop a
// DirectResponse to admit an AmbientBroadcast.
func (s *Scheduler) Enqueue(msg meshtastic.OutgoingMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := &item{msg: msg, priority: msg.Priority, serial: s.nextSeq}
	s.nextSeq++

	if s.totalLenLocked() >= s.cfg.MaxQueue {
		if !s.admitOverOverflowLocked(it) {
			s.dropped++
			metrics.IncSchedulerDroppedOverflow()
			return
		}
	}
	s.queues[it.priority] = append(s.queues[it.priority], it)
	s.updateQueueDepthMetricsLocked()
}

// admitOverOverflowLocked decides, under overflow, whether the incoming
// item bumps out the lowest-priority oldest resident item. It returns
// false if the incoming item itself should be dropped instead (it is the
// lowest priority class and no lower-or-equal victim exists above it).
func (s *Scheduler) admitOverOverflowLocked(incoming *item) bool {
	victimClass := meshtastic.Priority(-1)
	for c := meshtastic.Priority(len(s.queues) - 1); c >= incoming.priority; c-- {
		if len(s.queues[c]) > 0 {
			victimClass = c
			break
		}
	}
	if victimClass < 0 || victimClass < incoming.priority {
		// No resident item is at incoming's priority or lower: the
		// incoming item is itself the lowest priority present, so it
		// is the one dropped.
		return false
	}
	// Drop the oldest item in the lowest-or-equal-priority class found.
	q := s.queues[victimClass]
	s.queues[victimClass] = q[1:]
	s.dropped++
	metrics.IncSchedulerDroppedOverflow()
	return true
}

func (s *Scheduler) totalLenLocked() int {
	n := 0
	for _, q := range s.queues {
		n += len(q)
	}
	return n
}

func (s *Scheduler) updateQueueDepthMetricsLocked() {
	for c, q := range s.queues {
		metrics.SetSchedulerQueueDepth(meshtastic.Priority(c).String(), len(q))
	}
}

// applyAgingLocked promotes items whose wait has exceeded AgingThreshold
// by one priority class.
func (s *Scheduler) applyAgingLocked(now time.Time) {
	if s.cfg.AgingThreshold <= 0 {
		return
	}
	// Promote against a snapshot of the original classes so an item
	// promoted this tick is never re-examined and double-promoted in the
	// same pass.
	var promotedIn [len(s.queues)][]*item
	for c := len(s.queues) - 1; c > 0; c-- {
		var keep []*item
		for _, it := range s.queues[c] {
			if now.Sub(it.msg.EnqueueTime) >= s.cfg.AgingThreshold {
				it.priority--
				it.msg.Priority = it.priority
				promotedIn[it.priority] = append(promotedIn[it.priority], it)
				s.promoted++
				metrics.IncSchedulerPromotions()
				continue
			}
			keep = append(keep, it)
		}
		s.queues[c] = keep
	}
	for c, promoted := range promotedIn {
		if len(promoted) > 0 {
			s.queues[c] = mergeBySerial(s.queues[c], promoted)
		}
	}
}

// mergeBySerial merges two serial-ordered item slices into one, preserving
// enqueue order across both: a promoted item's older serial must still sort
// ahead of an already-resident item enqueued more recently into the same
// class, so aging never violates FIFO-within-class.
func mergeBySerial(a, b []*item) []*item {
	out := make([]*item, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].serial <= b[j].serial {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// requiredGap returns the minimum gap the next dispatch must respect given
// the class of the candidate and the previous dispatch.
func (s *Scheduler) requiredGapLocked(next *item) time.Duration {
	gap := s.cfg.MinSendGap
	if s.lastSendAt.IsZero() {
		return 0
	}
	if s.lastSendWasDM {
		if next.msg.Destination.IsDirect() {
			if *next.msg.Destination.NodeID != s.lastDMNode {
				if s.cfg.DMToDMGap > gap {
					gap = s.cfg.DMToDMGap
				}
			}
		} else {
			if s.cfg.PostDMBroadcastGap > gap {
				gap = s.cfg.PostDMBroadcastGap
			}
		}
	}
	return gap
}

// Next returns the next eligible item to dispatch, or (zero, false) if
// nothing is ready yet (either the queues are empty, spacing has not
// elapsed, or the only candidates are scheduled for the future). There is
// no wake-up signal; callers poll Next at a short interval.
func (s *Scheduler) Next(now time.Time) (meshtastic.OutgoingMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.applyAgingLocked(now)

	for c := range s.queues {
		for i, it := range s.queues[c] {
			if !it.msg.NotBefore.IsZero() && now.Before(it.msg.NotBefore) {
				continue
			}
			gap := s.requiredGapLocked(it)
			if !s.lastSendAt.IsZero() && now.Sub(s.lastSendAt) < gap {
				continue
			}
			s.queues[c] = append(s.queues[c][:i], s.queues[c][i+1:]...)
			s.updateQueueDepthMetricsLocked()
			s.lastSendAt = now
			s.lastSendWasDM = it.msg.Destination.IsDirect()
			if s.lastSendWasDM {
				s.lastDMNode = *it.msg.Destination.NodeID
			}
			s.dispatchedTotal++
			metrics.IncSchedulerDispatched()
			return it.msg, true
		}
	}
	return meshtastic.OutgoingMessage{}, false
}

// Snapshot returns the current scheduler state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byClass := make(map[meshtastic.Priority]int, len(s.queues))
	for c, q := range s.queues {
		byClass[meshtastic.Priority(c)] = len(q)
	}
	return Snapshot{
		QueuedByClass: byClass,
		DroppedOverfl: s.dropped,
		Promotions: s.promoted,
		DispatchedTotl: s.dispatchedTotal,
	}
}
