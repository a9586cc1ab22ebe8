package agent

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/mtzanidakis/realtymesh/internal/llm"
)

// maxHistory bounds the exchanges replayed to the model per session.
const maxHistory = 10

// Session is one conversation with a worker role. Turns that share a
// session run one at a time.
type Session struct {
	ID         string    `json:"id"`
	App        string    `json:"app"`
	User       string    `json:"user"`
	StartedAt  time.Time `json:"started_at"`
	LastActive time.Time `json:"last_active"`

	turn    sync.Mutex
	mu      sync.Mutex
	history []llm.Message
}

// Lock serializes a turn on the session. Unlock with the returned func.
func (s *Session) Lock() func() {
	s.turn.Lock()
	return s.turn.Unlock
}

// History returns a copy of the recorded exchanges.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Record appends one prompt/reply exchange.
func (s *Session) Record(prompt, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		llm.Message{Role: "user", Content: prompt},
		llm.Message{Role: "assistant", Content: reply},
	)
	if over := len(s.history) - 2*maxHistory; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	s.LastActive = time.Now()
}

var ErrEmptySessionID = errors.New("session id is required")

// SessionService keeps sessions in memory, keyed by app, user and id.
type SessionService struct {
	sessions map[sessionKey]*Session
	mu       sync.RWMutex
}

type sessionKey struct {
	app, user, id string
}

func NewSessionService() *SessionService {
	return &SessionService{
		sessions: make(map[sessionKey]*Session),
	}
}

// Create returns the session for (app, user, id), creating it on first use.
// Creating an existing session is not an error.
func (t *SessionService) Create(app, user, id string) (*Session, error) {
	if id == "" {
		return nil, ErrEmptySessionID
	}
	key := sessionKey{app, user, id}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[key]; ok {
		s.mu.Lock()
		s.LastActive = time.Now()
		s.mu.Unlock()
		return s, nil
	}
	now := time.Now()
	s := &Session{ID: id, App: app, User: user, StartedAt: now, LastActive: now}
	t.sessions[key] = s
	return s, nil
}

func (t *SessionService) Get(app, user, id string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions[sessionKey{app, user, id}]
}

func (t *SessionService) Remove(app, user, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionKey{app, user, id})
}

func (t *SessionService) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Reap drops sessions idle for longer than timeout and returns how many
// were removed.
func (t *SessionService) Reap(timeout time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	n := 0
	for key, s := range t.sessions {
		s.mu.Lock()
		idle := now.Sub(s.LastActive) > timeout
		s.mu.Unlock()
		if idle {
			delete(t.sessions, key)
			n++
		}
	}
	return n
}
