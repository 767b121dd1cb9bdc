package state

import (
	"sync"
	"time"
)

// State names the step a user is in. The empty state is idle.
type State string

// Idle is the state of users without a session.
const Idle State = ""

// Session is the in-flight interaction of one user.
type Session struct {
	State     State
	Data      any
	UpdatedAt time.Time
}

type slot struct {
	mu   sync.Mutex
	refs int
	sess *Session
}

// Manager keeps sessions in memory and serializes work per user.
type Manager struct {
	mu    sync.Mutex
	slots map[int64]*slot
	now   func() time.Time
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{slots: make(map[int64]*slot), now: time.Now}
}

func (m *Manager) slotLocked(userID int64) *slot {
	s, ok := m.slots[userID]
	if !ok {
		s = &slot{}
		m.slots[userID] = s
	}
	return s
}

func (m *Manager) releaseLocked(userID int64, s *slot) {
	if s.refs == 0 && s.sess == nil {
		delete(m.slots, userID)
	}
}

// Lock acquires the per-user mutex and returns its release function.
// Handlers hold it for the whole update so events of one user run in order.
func (m *Manager) Lock(userID int64) (unlock func()) {
	m.mu.Lock()
	s := m.slotLocked(userID)
	s.refs++
	m.mu.Unlock()

	s.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Unlock()
			m.mu.Lock()
			s.refs--
			m.releaseLocked(userID, s)
			m.mu.Unlock()
		})
	}
}

// Get returns a copy of the user's session.
func (m *Manager) Get(userID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[userID]
	if !ok || s.sess == nil {
		return Session{}, false
	}
	return *s.sess, true
}

// Set replaces the user's session.
func (m *Manager) Set(userID int64, st State, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slotLocked(userID)
	s.sess = &Session{State: st, Data: data, UpdatedAt: m.now()}
}

// Clear drops the user's session.
func (m *Manager) Clear(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[userID]
	if !ok {
		return
	}
	s.sess = nil
	m.releaseLocked(userID, s)
}

// GetState returns the user's state or Idle.
func (m *Manager) GetState(userID int64) State {
	sess, ok := m.Get(userID)
	if !ok {
		return Idle
	}
	return sess.State
}

// InProgress reports whether the user has a session.
func (m *Manager) InProgress(userID int64) bool {
	_, ok := m.Get(userID)
	return ok
}

// Sweep drops sessions untouched for longer than maxIdle and returns how many were dropped.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.slots {
		if s.sess != nil && s.sess.UpdatedAt.Before(cutoff) {
			s.sess = nil
			m.releaseLocked(id, s)
			n++
		}
	}
	return n
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.slots {
		if s.sess != nil {
			n++
		}
	}
	return n
}
