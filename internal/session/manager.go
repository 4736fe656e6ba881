package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/pacedchat/internal/chat"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

const defaultEndedRetention = 30 * time.Minute

var (
	ErrNotFound = errors.New("session not found")
	ErrEnded    = errors.New("session ended")
)

type Session struct {
	ID             string    `json:"session_id"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	chat *chat.Orchestrator
}

// ChatFactory builds the conversation owned by a new session.
type ChatFactory func(sessionID, userID string) *chat.Orchestrator

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	endedRetention    time.Duration
	newChat           ChatFactory
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration, newChat ChatFactory) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		endedRetention:    defaultEndedRetention,
		newChat:           newChat,
	}
}

// SetEndedRetention sets how long ended sessions stay readable before the
// janitor forgets them. Zero or less keeps the default.
func (m *Manager) SetEndedRetention(d time.Duration) {
	if d <= 0 {
		d = defaultEndedRetention
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endedRetention = d
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) InactivityTimeout() time.Duration {
	return m.inactivityTimeout
}

func (m *Manager) Create(userID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if m.newChat != nil {
		s.chat = m.newChat(s.ID, userID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Chat returns the conversation of an active session and marks it as used.
func (m *Manager) Chat(sessionID string) (*chat.Orchestrator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive || s.chat == nil {
		return nil, ErrEnded
	}
	s.LastActivityAt = time.Now().UTC()
	return s.chat, nil
}

// Touch records activity on an active session without handing out its
// conversation.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusActive {
		return ErrEnded
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End marks the session ended and closes its conversation, cancelling any
// running reveal. The ended record stays readable.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	conv := endLocked(s, time.Now().UTC())
	out := clone(s)
	m.mu.Unlock()

	if conv != nil {
		conv.Close()
	}
	return out, nil
}

// CloseAll ends every active session; used on shutdown.
func (m *Manager) CloseAll() int {
	now := time.Now().UTC()
	var convs []*chat.Orchestrator

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if conv := endLocked(s, now); conv != nil {
			convs = append(convs, conv)
		}
	}
	m.mu.Unlock()

	for _, conv := range convs {
		conv.Close()
	}
	return len(convs)
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session
	var convs []*chat.Orchestrator

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status != StatusActive {
			// Ended records carry their end time in LastActivityAt.
			if now.Sub(s.LastActivityAt) >= m.endedRetention {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		if conv := endLocked(s, now); conv != nil {
			convs = append(convs, conv)
		}
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	for _, conv := range convs {
		conv.Close()
	}
	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

// endLocked detaches the conversation so it can be closed outside the lock.
func endLocked(s *Session, now time.Time) *chat.Orchestrator {
	conv := s.chat
	s.chat = nil
	s.Status = StatusEnded
	s.LastActivityAt = now
	return conv
}

func clone(s *Session) *Session {
	c := *s
	c.chat = nil
	return &c
}
