package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"brokerbot/internal/models"
)

// FileStore persists one JSON document per session under a directory.
// Writes go through a temp file and rename so a concurrent reader never
// sees a half-written session.
type FileStore struct {
	dir     string
	timeout time.Duration
}

// NewFileStore creates the storage directory if needed.
func NewFileStore(dir string, sessionTimeout time.Duration) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create storage dir: %v", ErrStorageUnavailable, err)
	}
	return &FileStore{dir: dir, timeout: sessionTimeout}, nil
}

func (s *FileStore) sessionPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *FileStore) CreateSession(ctx context.Context) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{
		SessionID:      uuid.NewString(),
		CreatedAt:      now,
		LastActivity:   now,
		ActiveMessages: []models.Message{},
		Chunks:         []models.Chunk{},
	}
	if err := s.write(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *FileStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := os.ReadFile(s.sessionPath(sessionID))
	if os.IsNotExist(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read session %s: %v", ErrStorageUnavailable, sessionID, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %v", ErrStorageUnavailable, sessionID, err)
	}
	if expired(sess.LastActivity, s.timeout) {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *FileStore) SaveSession(ctx context.Context, session *models.Session) error {
	return s.write(session)
}

func (s *FileStore) write(sess *models.Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode session %s: %v", ErrStorageUnavailable, sess.SessionID, err)
	}
	tmp, err := os.CreateTemp(s.dir, sess.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.sessionPath(sess.SessionID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *FileStore) ListSessions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStorageUnavailable, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if _, err := s.GetSession(ctx, id); err != nil {
			continue // expired or unreadable
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *FileStore) ListAll(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStorageUnavailable, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *FileStore) DeleteSession(ctx context.Context, sessionID string) error {
	err := os.Remove(s.sessionPath(sessionID))
	if os.IsNotExist(err) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: delete session %s: %v", ErrStorageUnavailable, sessionID, err)
	}
	return nil
}

func (s *FileStore) DeleteIfExpired(ctx context.Context, sessionID string) (bool, error) {
	data, err := os.ReadFile(s.sessionPath(sessionID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return false, fmt.Errorf("%w: decode session %s: %v", ErrStorageUnavailable, sessionID, err)
	}
	if !expired(sess.LastActivity, s.timeout) {
		return false, nil
	}
	if err := os.Remove(s.sessionPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return true, nil
}

func (s *FileStore) SweepExpired(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %v", ErrStorageUnavailable, err)
	}
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ok, err := s.DeleteIfExpired(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}
