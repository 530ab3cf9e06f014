package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"brokerbot/internal/database"
	"brokerbot/internal/models"
)

// MySQLStore persists sessions across restarts in three related tables:
// conversations (one row per session), chunks, and messages. Every message
// ever added lives in the messages table; a NULL chunk_id marks the active
// window, a non-NULL chunk_id records which sealed chunk owns the message.
type MySQLStore struct {
	db      *database.DB
	timeout time.Duration
}

// NewMySQLStore wraps an initialized database connection.
func NewMySQLStore(db *database.DB, sessionTimeout time.Duration) *MySQLStore {
	return &MySQLStore{db: db, timeout: sessionTimeout}
}

func (s *MySQLStore) CreateSession(ctx context.Context) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{
		SessionID:      uuid.NewString(),
		CreatedAt:      now,
		LastActivity:   now,
		ActiveMessages: []models.Message{},
		Chunks:         []models.Chunk{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, total_messages, created_at, updated_at) VALUES (?, 0, ?, ?)`,
		sess.SessionID, sess.CreatedAt, sess.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrStorageUnavailable, err)
	}
	return sess, nil
}

func (s *MySQLStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		convID int64
		sess   models.Session
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, total_messages, created_at, updated_at FROM conversations WHERE session_id = ?`,
		sessionID).Scan(&convID, &sess.SessionID, &sess.TotalMessages, &sess.CreatedAt, &sess.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load session %s: %v", ErrStorageUnavailable, sessionID, err)
	}
	if expired(sess.LastActivity, s.timeout) {
		return nil, ErrSessionNotFound
	}

	chunks, byID, err := s.loadChunks(ctx, convID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, role, content, token_count, created_at FROM messages WHERE conversation_id = ? ORDER BY id`,
		convID)
	if err != nil {
		return nil, fmt.Errorf("%w: load messages: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	sess.ActiveMessages = []models.Message{}
	for rows.Next() {
		var (
			chunkID sql.NullString
			msg     models.Message
		)
		if err := rows.Scan(&chunkID, &msg.Role, &msg.Content, &msg.TokenCount, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan message: %v", ErrStorageUnavailable, err)
		}
		if chunkID.Valid {
			if chunk, ok := byID[chunkID.String]; ok {
				chunk.Messages = append(chunk.Messages, msg)
			}
			continue
		}
		sess.ActiveMessages = append(sess.ActiveMessages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	sess.Chunks = make([]models.Chunk, len(chunks))
	for i, chunk := range chunks {
		sess.Chunks[i] = *chunk
	}
	return &sess, nil
}

func (s *MySQLStore) loadChunks(ctx context.Context, convID int64) ([]*models.Chunk, map[string]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, total_tokens, summary, created_at FROM chunks WHERE conversation_id = ? ORDER BY seq`,
		convID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: load chunks: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	byID := make(map[string]*models.Chunk)
	for rows.Next() {
		var (
			chunk   models.Chunk
			summary sql.NullString
		)
		if err := rows.Scan(&chunk.ChunkID, &chunk.TotalTokens, &summary, &chunk.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("%w: scan chunk: %v", ErrStorageUnavailable, err)
		}
		chunk.Summary = summary.String
		chunk.Messages = []models.Message{}
		chunks = append(chunks, &chunk)
		byID[chunk.ChunkID] = &chunk
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return chunks, byID, nil
}

// SaveSession rewrites the session's rows in one transaction, mirroring how
// the file store replaces the whole document. Readers see the old state
// until commit.
func (s *MySQLStore) SaveSession(ctx context.Context, session *models.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin save: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversations (session_id, total_messages, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE total_messages = VALUES(total_messages), updated_at = VALUES(updated_at)`,
		session.SessionID, session.TotalMessages, session.CreatedAt, session.LastActivity)
	if err != nil {
		return fmt.Errorf("%w: upsert conversation: %v", ErrStorageUnavailable, err)
	}

	var convID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM conversations WHERE session_id = ?`, session.SessionID).Scan(&convID)
	if err != nil {
		return fmt.Errorf("%w: resolve conversation: %v", ErrStorageUnavailable, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, convID); err != nil {
		return fmt.Errorf("%w: clear messages: %v", ErrStorageUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE conversation_id = ?`, convID); err != nil {
		return fmt.Errorf("%w: clear chunks: %v", ErrStorageUnavailable, err)
	}

	for seq, chunk := range session.Chunks {
		var summary interface{}
		if chunk.Summary != "" {
			summary = chunk.Summary
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (chunk_id, conversation_id, seq, total_tokens, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			chunk.ChunkID, convID, seq, chunk.TotalTokens, summary, chunk.CreatedAt)
		if err != nil {
			return fmt.Errorf("%w: insert chunk: %v", ErrStorageUnavailable, err)
		}
		for _, msg := range chunk.Messages {
			if err := insertMessage(ctx, tx, convID, chunk.ChunkID, msg); err != nil {
				return err
			}
		}
	}
	for _, msg := range session.ActiveMessages {
		if err := insertMessage(ctx, tx, convID, "", msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit save: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, convID int64, chunkID string, msg models.Message) error {
	var chunkRef interface{}
	if chunkID != "" {
		chunkRef = chunkID
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, chunk_id, role, content, token_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		convID, chunkRef, string(msg.Role), msg.Content, msg.TokenCount, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: insert message: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *MySQLStore) ListSessions(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-s.timeout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM conversations WHERE updated_at >= ? ORDER BY id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return ids, nil
}

func (s *MySQLStore) ListAll(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id FROM conversations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return ids, nil
}

func (s *MySQLStore) DeleteSession(ctx context.Context, sessionID string) error {
	// Child rows cascade.
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("%w: delete session %s: %v", ErrStorageUnavailable, sessionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *MySQLStore) DeleteIfExpired(ctx context.Context, sessionID string) (bool, error) {
	cutoff := time.Now().UTC().Add(-s.timeout)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE session_id = ? AND updated_at < ?`, sessionID, cutoff)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return affected > 0, nil
}

func (s *MySQLStore) SweepExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.timeout)
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %v", ErrStorageUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return int(affected), nil
}
