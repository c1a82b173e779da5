package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/conversation"
	"github.com/studypilot/backend/internal/metrics"
	"github.com/studypilot/backend/pkg/logger"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
)

type Session struct {
	ID        string
	Buffer    *conversation.Buffer
	CreatedAt time.Time
}

// SessionStore keeps conversation buffers in memory. A session expires after
// ttl without activity.
type SessionStore struct {
	mu        sync.Mutex
	items     *cache.Cache
	window    int
	maxActive int
}

func NewSessionStore(ttl, cleanup time.Duration, window, maxActive int) *SessionStore {
	s := &SessionStore{
		items:     cache.New(ttl, cleanup),
		window:    window,
		maxActive: maxActive,
	}
	s.items.OnEvicted(func(id string, _ interface{}) {
		logger.Debug("Session expired", zap.String("session_id", id))
		metrics.ActiveSessions.Set(float64(s.items.ItemCount()))
	})
	return s
}

func (s *SessionStore) Create() (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxActive > 0 && s.items.ItemCount() >= s.maxActive {
		return nil, ErrTooManySessions
	}

	sess := &Session{
		ID:        uuid.New().String(),
		Buffer:    conversation.NewBuffer(s.window),
		CreatedAt: time.Now(),
	}
	s.items.SetDefault(sess.ID, sess)
	metrics.ActiveSessions.Set(float64(s.items.ItemCount()))

	logger.Debug("Session created", zap.String("session_id", sess.ID))
	return sess, nil
}

// Get returns the session and extends its expiry.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items.Get(id)
	if !ok {
		return nil, false
	}
	sess := v.(*Session)
	s.items.SetDefault(id, sess)
	return sess, true
}

// Resolve looks id up, or creates a new session when id is empty.
func (s *SessionStore) Resolve(id string) (*Session, error) {
	if id == "" {
		return s.Create()
	}
	sess, ok := s.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items.Get(id); !ok {
		return false
	}
	s.items.Delete(id)
	return true
}

func (s *SessionStore) Count() int {
	return s.items.ItemCount()
}
