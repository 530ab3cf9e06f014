package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"brokerbot/internal/models"
	"brokerbot/internal/storage"
)

// ErrInvalidInput is returned when a message fails validation before it
// touches the session.
var ErrInvalidInput = errors.New("invalid input")

// contextPrefix introduces each sealed chunk when it is folded into the
// assembled prompt context.
const contextPrefix = "Previous conversation summary: "

// excerptTokenBudget caps the fallback excerpt built for chunks that have
// no summary.
const excerptTokenBudget = 100

// Summarizer condenses a sealed run of messages into a short summary.
// Failures are tolerated; the chunk just keeps an empty summary.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message) (string, error)
}

// MemoryConfig tunes the chunking and context budgets.
type MemoryConfig struct {
	MaxTokensPerChunk int
	MaxContextTokens  int
	SessionTimeout    time.Duration
}

// DefaultMemoryConfig mirrors the production defaults.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxTokensPerChunk: 2000,
		MaxContextTokens:  4000,
		SessionTimeout:    24 * time.Hour,
	}
}

// MemoryService is the conversation memory engine. It owns session
// lifecycle, the token-aware chunking pass, and bounded context assembly.
// All writes to a given session are serialized through a per-session mutex
// so concurrent requests interleave at message granularity.
type MemoryService struct {
	store      storage.Store
	summarizer Summarizer
	config     MemoryConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMemoryService creates the engine. summarizer may be nil, in which case
// sealed chunks keep empty summaries and context falls back to excerpts.
func NewMemoryService(store storage.Store, summarizer Summarizer, config MemoryConfig) *MemoryService {
	if config.MaxTokensPerChunk <= 0 {
		config.MaxTokensPerChunk = 2000
	}
	if config.MaxContextTokens <= 0 {
		config.MaxContextTokens = 4000
	}
	if config.SessionTimeout <= 0 {
		config.SessionTimeout = 24 * time.Hour
	}
	return &MemoryService{
		store:      store,
		summarizer: summarizer,
		config:     config,
		locks:      make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex guarding a session, creating it on first use.
func (s *MemoryService) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

func (s *MemoryService) releaseLock(sessionID string) {
	s.mu.Lock()
	delete(s.locks, sessionID)
	s.mu.Unlock()
}

// dropLockIfMissing removes the lock entry when a lookup came back
// not-found, so junk ids cannot grow the lock map without bound.
func (s *MemoryService) dropLockIfMissing(sessionID string, err error) {
	if errors.Is(err, storage.ErrSessionNotFound) {
		s.releaseLock(sessionID)
	}
}

// CreateSession starts a fresh empty session.
func (s *MemoryService) CreateSession(ctx context.Context) (*models.Session, error) {
	sess, err := s.store.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("🆕 [MEMORY] Created session %s", sess.SessionID)
	return sess, nil
}

// AddMessage validates and appends a message to the session's active window,
// runs the chunking pass, and persists the result in a single save.
func (s *MemoryService) AddMessage(ctx context.Context, sessionID string, role models.Role, content string) (*models.ConversationInfo, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty message content", ErrInvalidInput)
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		s.dropLockIfMissing(sessionID, err)
		return nil, err
	}

	now := time.Now().UTC()
	msg := models.Message{
		Role:       role,
		Content:    content,
		CreatedAt:  now,
		TokenCount: EstimateTokens(content),
	}
	sess.ActiveMessages = append(sess.ActiveMessages, msg)
	sess.TotalMessages++
	sess.Touch(now)

	s.chunkIfNeeded(ctx, sess)

	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return infoFor(sess), nil
}

// chunkIfNeeded seals chunks off the front of the active window until the
// window fits under MaxTokensPerChunk. A single message larger than the
// budget stays active until a second message arrives, then seals alone.
func (s *MemoryService) chunkIfNeeded(ctx context.Context, sess *models.Session) {
	for SumTokens(sess.ActiveMessages) > s.config.MaxTokensPerChunk && len(sess.ActiveMessages) > 1 {
		run := 1
		tokens := sess.ActiveMessages[0].TokenCount
		for run < len(sess.ActiveMessages) {
			next := sess.ActiveMessages[run].TokenCount
			if tokens+next > s.config.MaxTokensPerChunk {
				break
			}
			tokens += next
			run++
		}

		sealed := make([]models.Message, run)
		copy(sealed, sess.ActiveMessages[:run])
		sess.ActiveMessages = sess.ActiveMessages[run:]

		chunk := models.Chunk{
			ChunkID:     uuid.NewString(),
			Messages:    sealed,
			TotalTokens: tokens,
			CreatedAt:   time.Now().UTC(),
		}
		chunk.Summary = s.summarize(ctx, sealed)
		sess.Chunks = append(sess.Chunks, chunk)

		log.Printf("📦 [MEMORY] Sealed chunk %s for session %s (%d messages, %d tokens)",
			chunk.ChunkID, sess.SessionID, len(sealed), tokens)
	}
}

// summarize asks the summarizer for a condensed form of a sealed run.
// Any failure leaves the summary empty.
func (s *MemoryService) summarize(ctx context.Context, messages []models.Message) string {
	if s.summarizer == nil {
		return ""
	}
	summary, err := s.summarizer.Summarize(ctx, messages)
	if err != nil {
		log.Printf("⚠️ [MEMORY] Chunk summarization failed: %v", err)
		return ""
	}
	return strings.TrimSpace(summary)
}

// AssembleContext builds the bounded, chronological prompt context for a
// session: sealed chunks as system-role summary entries followed by the
// active window. Chunks are admitted newest first against the remaining
// budget but emitted oldest first. The active window is always included.
func (s *MemoryService) AssembleContext(ctx context.Context, sessionID string) ([]models.ContextMessage, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		s.dropLockIfMissing(sessionID, err)
		return nil, err
	}
	sess.Touch(time.Now().UTC())
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	remaining := s.config.MaxContextTokens - sess.ActiveTokens()

	var entries []string
	for i := len(sess.Chunks) - 1; i >= 0; i-- {
		entry := contextPrefix + chunkContextText(&sess.Chunks[i])
		cost := EstimateTokens(entry)
		if cost > remaining {
			break
		}
		remaining -= cost
		entries = append(entries, entry)
	}

	assembled := make([]models.ContextMessage, 0, len(entries)+len(sess.ActiveMessages))
	for i := len(entries) - 1; i >= 0; i-- {
		assembled = append(assembled, models.ContextMessage{Role: "system", Content: entries[i]})
	}
	for _, msg := range sess.ActiveMessages {
		assembled = append(assembled, models.ContextMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return assembled, nil
}

// chunkContextText returns the chunk's summary, or a short excerpt of its
// messages when summarization never produced one.
func chunkContextText(chunk *models.Chunk) string {
	if chunk.Summary != "" {
		return chunk.Summary
	}
	var b strings.Builder
	for i, msg := range chunk.Messages {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(string(msg.Role))
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return TruncateToTokens(b.String(), excerptTokenBudget)
}

// GetHistory returns the session's sealed chunks and active window.
func (s *MemoryService) GetHistory(ctx context.Context, sessionID string) (*models.History, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		s.dropLockIfMissing(sessionID, err)
		return nil, err
	}
	sess.Touch(time.Now().UTC())
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	history := &models.History{
		SessionID:      sess.SessionID,
		ActiveMessages: make([]models.Message, 0, len(sess.ActiveMessages)),
		Chunks:         make([]models.Chunk, 0, len(sess.Chunks)),
	}
	history.ActiveMessages = append(history.ActiveMessages, sess.ActiveMessages...)
	history.Chunks = append(history.Chunks, sess.Chunks...)
	return history, nil
}

// GetSessionInfo returns the session's summary counters and refreshes its
// activity timestamp.
func (s *MemoryService) GetSessionInfo(ctx context.Context, sessionID string) (*models.ConversationInfo, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		s.dropLockIfMissing(sessionID, err)
		return nil, err
	}
	sess.Touch(time.Now().UTC())
	if err := s.store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return infoFor(sess), nil
}

// ListSessions returns the ids of all live sessions.
func (s *MemoryService) ListSessions(ctx context.Context) ([]string, error) {
	return s.store.ListSessions(ctx)
}

// DeleteSession removes a session and all its history.
func (s *MemoryService) DeleteSession(ctx context.Context, sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		s.dropLockIfMissing(sessionID, err)
		return err
	}
	s.releaseLock(sessionID)
	log.Printf("🗑️ [MEMORY] Deleted session %s", sessionID)
	return nil
}

// CleanupExpiredSessions sweeps sessions whose last activity is older than
// the timeout. Expiry is re-checked under the session lock so a request
// that touched the session after listing is not swept out from under it.
func (s *MemoryService) CleanupExpiredSessions(ctx context.Context) (int, error) {
	ids, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		lock := s.sessionLock(id)
		lock.Lock()
		deleted, err := s.store.DeleteIfExpired(ctx, id)
		lock.Unlock()
		if err != nil {
			log.Printf("⚠️ [MEMORY] Cleanup of session %s failed: %v", id, err)
			continue
		}
		if deleted {
			s.releaseLock(id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("🧹 [MEMORY] Cleaned up %d expired session(s)", removed)
	}
	return removed, nil
}

func infoFor(sess *models.Session) *models.ConversationInfo {
	return &models.ConversationInfo{
		SessionID:            sess.SessionID,
		CreatedAt:            sess.CreatedAt,
		LastActivity:         sess.LastActivity,
		TotalMessages:        sess.TotalMessages,
		TotalChunks:          len(sess.Chunks),
		CurrentMessagesCount: len(sess.ActiveMessages),
		EstimatedTotalTokens: sess.EstimatedTotalTokens(),
	}
}
