package stores

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session owns the conversation of one browser session.
type Session struct {
	ID string

	conv Conversation
	busy sync.Mutex // one submission at a time

	mu       sync.Mutex
	lastSeen time.Time
}

// Conversation returns the session's own turn log
func (s *Session) Conversation() Conversation {
	return s.conv
}

// Lock waits for any in-flight submission of this session to finish.
func (s *Session) Lock()   { s.busy.Lock() }
func (s *Session) Unlock() { s.busy.Unlock() }

func (s *Session) touch(t time.Time) {
	s.mu.Lock()
	s.lastSeen = t
	s.mu.Unlock()
}

func (s *Session) idleSince(t time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.Sub(s.lastSeen)
}

// Sessions is the registry of live sessions
type Sessions struct {
	idle time.Duration
	now  func() time.Time

	mu   sync.Mutex
	data map[string]*Session
}

// NewSessions returns a registry that forgets sessions idle longer than idle (0 keeps them).
func NewSessions(idle time.Duration) *Sessions {
	return &Sessions{
		idle: idle,
		now:  time.Now,
		data: make(map[string]*Session),
	}
}

// Get returns a known session without creating one.
func (r *Sessions) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

// Ensure returns the session of id, creating a new one with a fresh id when unknown.
func (r *Sessions) Ensure(id string) *Session {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)

	if s, ok := r.data[id]; ok && len(id) > 0 {
		s.touch(now)
		return s
	}
	s := &Session{ID: uuid.NewString(), conv: NewConversation(), lastSeen: now}
	r.data[s.ID] = s
	logger().Debugw("new session", "sid", s.ID, "sessions", len(r.data))
	return s
}

// Drop forgets a session
func (r *Sessions) Drop(id string) {
	r.mu.Lock()
	delete(r.data, id)
	r.mu.Unlock()
}

func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *Sessions) pruneLocked(now time.Time) {
	if r.idle <= 0 {
		return
	}
	for id, s := range r.data {
		if s.idleSince(now) > r.idle {
			delete(r.data, id)
			logger().Infow("session expired", "sid", id)
		}
	}
}
