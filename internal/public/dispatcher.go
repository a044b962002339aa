package public

import (
	"sync"
	"time"

	"github.com/smartyhall/meshbbs/internal/metrics"
)

// Cooldowns tracks, per (node, command), the time before which a repeat
// public invocation is silently dropped.
type Cooldowns struct {
	mu sync.Mutex
	next map[string]time.Time // key: node_id + "\x00" + byte(kind)
	duration map[Kind]time.Duration
}

// NewCooldowns constructs a Cooldowns table with per-Kind durations.
func NewCooldowns(durations map[Kind]time.Duration) *Cooldowns {
	return &Cooldowns{
		next: make(map[string]time.Time),
		duration: durations,
	}
}

func cooldownKey(nodeID string, kind Kind) string {
	b := make([]byte, 0, len(nodeID)+2)
	b = append(b, nodeID...)
	b = append(b, 0)
	b = append(b, byte(kind))
	return string(b)
}

// Allow reports whether a command of this kind from nodeID may proceed
// right now, and if so records the next-eligible time. Commands with no
// configured duration are always allowed.
func (c *Cooldowns) Allow(nodeID string, kind Kind, now time.Time) bool {
	d, hasCooldown := c.duration[kind]
	if !hasCooldown || d <= 0 {
		return true
	}
	key := cooldownKey(nodeID, kind)

	c.mu.Lock()
	defer c.mu.Unlock()
	if until, ok := c.next[key]; ok && now.Before(until) {
		metrics.IncPublicCooldownBlocked()
		return false
	}
	c.next[key] = now.Add(d)
	return true
}
