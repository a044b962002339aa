package session

import (
	"sync"
	"time"

	"github.com/smartyhall/meshbbs/internal/metrics"
)

// pendingLoginTTL bounds how long a public `^LOGIN <name>` claim waits for
// its corresponding DM before it expires, so a stale public claim can't be
// paired with an unrelated later DM from the same node.
const pendingLoginTTL = 2 * time.Minute

// pendingLogin is one outstanding public-LOGIN claim awaiting its DM.
type pendingLogin struct {
	username string
	notedAt time.Time
}

// Manager owns the node_id -> Session map. It is intended
// to be driven exclusively by the single server-core task; the mutex
// exists only to guard against the idle-pruner task running concurrently,
// not to support general concurrent command processing.
type Manager struct {
	mu sync.Mutex
	sessions map[string]*Session

	pendingLoginMu sync.Mutex
	pendingLogins map[string]pendingLogin // node_id -> claim, set by a public ^LOGIN

	maxUsers int
	timeout time.Duration // session_timeout; zero disables pruning
}

// NewManager constructs a Manager. maxUsers <= 0 means unbounded.
func NewManager(maxUsers int, sessionTimeout time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		pendingLogins: make(map[string]pendingLogin),
		maxUsers: maxUsers,
		timeout: sessionTimeout,
	}
}

// GetOrCreate returns the Session for nodeID, creating a fresh Connected
// one if this is the first DM seen from that node.
func (m *Manager) GetOrCreate(nodeID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[nodeID]
	if !ok {
		s = New(nodeID, nodeID)
		m.sessions[nodeID] = s
	}
	s.Touch()
	return s
}

// NotePendingLogin records a username against nodeID following a public
// `^LOGIN <name>`, to be finalized on the next DM from that node within
// pendingLoginTTL.
func (m *Manager) NotePendingLogin(nodeID, username string, now time.Time) {
	m.pendingLoginMu.Lock()
	m.pendingLogins[nodeID] = pendingLogin{username: username, notedAt: now}
	m.pendingLoginMu.Unlock()
}

// TakePendingLogin returns and clears any username pending for nodeID,
// provided the claim hasn't outlived pendingLoginTTL; an expired claim is
// discarded and reported as absent.
func (m *Manager) TakePendingLogin(nodeID string, now time.Time) (string, bool) {
	m.pendingLoginMu.Lock()
	defer m.pendingLoginMu.Unlock()
	p, ok := m.pendingLogins[nodeID]
	if !ok {
		return "", false
	}
	delete(m.pendingLogins, nodeID)
	if now.Sub(p.notedAt) > pendingLoginTTL {
		return "", false
	}
	return p.username, true
}

// LoggedInCount reports the number of sessions currently logged in.
func (m *Manager) LoggedInCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.LoggedIn {
			n++
		}
	}
	return n
}

// AllowLogin enforces bbs.max_users: returns false when the gate would be exceeded by one
// more login and nodeID is not already logged in.
func (m *Manager) AllowLogin(nodeID string) bool {
	if m.maxUsers <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[nodeID]; ok && s.LoggedIn {
		return true
	}
	n := 0
	for _, s := range m.sessions {
		if s.LoggedIn {
			n++
		}
	}
	return n < m.maxUsers
}

// PruneIdle terminates sessions whose LastActivity predates now minus the
// configured session_timeout. A zero timeout disables pruning.
func (m *Manager) PruneIdle(now time.Time) int {
	if m.timeout <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pruned := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActivity) >= m.timeout {
			delete(m.sessions, id)
			pruned++
		}
	}
	metrics.SetSessionsActive(len(m.sessions))
	return pruned
}

// Len reports the total number of tracked sessions (logged in or not).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Insert installs a pre-built Session, keyed by its NodeID. Used by the
// test harness to seed scenarios without replaying DMs.
func (m *Manager) Insert(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.NodeID] = s
	metrics.SetSessionsActive(len(m.sessions))
}
