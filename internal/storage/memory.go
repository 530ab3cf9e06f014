package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"brokerbot/internal/models"
)

// MemoryStore keeps sessions in a process-wide registry. The registry starts
// empty and entries are only removed by delete or sweep; there is no
// background janitor, expiry is judged by last activity like the other
// backends so behavior is identical across stores.
type MemoryStore struct {
	sessions *cache.Cache
	timeout  time.Duration
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(sessionTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: cache.New(cache.NoExpiration, 0),
		timeout:  sessionTimeout,
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{
		SessionID:      uuid.NewString(),
		CreatedAt:      now,
		LastActivity:   now,
		ActiveMessages: []models.Message{},
		Chunks:         []models.Chunk{},
	}
	s.sessions.Set(sess.SessionID, cloneSession(sess), cache.NoExpiration)
	return sess, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	value, found := s.sessions.Get(sessionID)
	if !found {
		return nil, ErrSessionNotFound
	}
	sess := value.(*models.Session)
	if expired(sess.LastActivity, s.timeout) {
		return nil, ErrSessionNotFound
	}
	return cloneSession(sess), nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, session *models.Session) error {
	// Set replaces the whole value, so readers see either the old or the
	// new session, never a mix.
	s.sessions.Set(session.SessionID, cloneSession(session), cache.NoExpiration)
	return nil
}

func (s *MemoryStore) ListSessions(ctx context.Context) ([]string, error) {
	items := s.sessions.Items()
	ids := make([]string, 0, len(items))
	for id, item := range items {
		if sess, ok := item.Object.(*models.Session); ok && !expired(sess.LastActivity, s.timeout) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *MemoryStore) ListAll(ctx context.Context) ([]string, error) {
	items := s.sessions.Items()
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, found := s.sessions.Get(sessionID); !found {
		return ErrSessionNotFound
	}
	s.sessions.Delete(sessionID)
	return nil
}

func (s *MemoryStore) DeleteIfExpired(ctx context.Context, sessionID string) (bool, error) {
	value, found := s.sessions.Get(sessionID)
	if !found {
		return false, nil
	}
	sess := value.(*models.Session)
	if !expired(sess.LastActivity, s.timeout) {
		return false, nil
	}
	s.sessions.Delete(sessionID)
	return true, nil
}

func (s *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	removed := 0
	for id, item := range s.sessions.Items() {
		if sess, ok := item.Object.(*models.Session); ok && expired(sess.LastActivity, s.timeout) {
			s.sessions.Delete(id)
			removed++
		}
	}
	return removed, nil
}

// cloneSession deep-copies a session so callers never share slices with the
// registry. Messages are immutable, so copying the slices is enough.
func cloneSession(sess *models.Session) *models.Session {
	out := *sess
	out.ActiveMessages = append([]models.Message(nil), sess.ActiveMessages...)
	out.Chunks = make([]models.Chunk, len(sess.Chunks))
	for i, c := range sess.Chunks {
		out.Chunks[i] = c
		out.Chunks[i].Messages = append([]models.Message(nil), c.Messages...)
	}
	return &out
}
