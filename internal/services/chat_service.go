package services

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"brokerbot/internal/models"
)

// goodbyePattern matches only the explicit closing phrase the bot is
// instructed to use. "bye" or "take care" alone do not end a conversation.
var goodbyePattern = regexp.MustCompile(`(?i)good[\s-]?bye?\s+and\s+take\s+care`)

const (
	replyAttempts     = 3
	replyBackoffStart = 500 * time.Millisecond
)

// ReplyGenerator produces the assistant's next turn from assembled context.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, contextMessages []models.ContextMessage) (string, error)
}

// ChatService orchestrates a chat turn: it records the user message, builds
// the bounded context, asks the model for a reply, records it, and closes
// out the conversation when the bot says goodbye.
type ChatService struct {
	memory  *MemoryService
	llm     ReplyGenerator
	webhook *WebhookService
}

func NewChatService(memory *MemoryService, llm ReplyGenerator, webhook *WebhookService) *ChatService {
	return &ChatService{memory: memory, llm: llm, webhook: webhook}
}

// ProcessMessage handles one user turn. An empty sessionID starts a new
// session. The user message is persisted before the model is called, so a
// failed completion never loses the user's words.
func (s *ChatService) ProcessMessage(ctx context.Context, sessionID, message string) (*models.ChatResponse, error) {
	if sessionID == "" {
		sess, err := s.memory.CreateSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = sess.SessionID
	}

	if _, err := s.memory.AddMessage(ctx, sessionID, models.RoleUser, message); err != nil {
		return nil, err
	}

	contextMessages, err := s.memory.AssembleContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	reply, err := s.generateWithRetry(ctx, contextMessages)
	if err != nil {
		return nil, err
	}

	info, err := s.memory.AddMessage(ctx, sessionID, models.RoleAssistant, reply)
	if err != nil {
		return nil, err
	}

	if goodbyePattern.MatchString(reply) {
		log.Printf("👋 [CHAT] Goodbye detected in session %s", sessionID)
		s.fileClaim(ctx, sessionID)
	}

	return &models.ChatResponse{
		SessionID: sessionID,
		Reply:     reply,
		Info:      info,
	}, nil
}

// generateWithRetry calls the model with bounded retries and doubling
// backoff. Context cancellation stops the retry loop immediately.
func (s *ChatService) generateWithRetry(ctx context.Context, contextMessages []models.ContextMessage) (string, error) {
	backoff := replyBackoffStart
	var lastErr error
	for attempt := 1; attempt <= replyAttempts; attempt++ {
		reply, err := s.llm.GenerateReply(ctx, contextMessages)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		log.Printf("⚠️ [CHAT] Reply generation attempt %d/%d failed: %v", attempt, replyAttempts, err)
		if attempt == replyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", fmt.Errorf("reply generation failed after %d attempts: %w", replyAttempts, lastErr)
}

// fileClaim posts the full transcript to the claim endpoint. Best effort:
// failures are logged, the chat response is unaffected.
func (s *ChatService) fileClaim(ctx context.Context, sessionID string) {
	if s.webhook == nil || !s.webhook.Enabled() {
		return
	}
	history, err := s.memory.GetHistory(ctx, sessionID)
	if err != nil {
		log.Printf("⚠️ [CHAT] Could not load transcript for claim (session %s): %v", sessionID, err)
		return
	}
	payload := ClaimPayload{
		SessionID:  sessionID,
		ClosedAt:   time.Now().UTC(),
		Transcript: history.AllMessages(),
	}
	if err := s.webhook.SendClaim(ctx, payload); err != nil {
		log.Printf("⚠️ [CHAT] Claim delivery failed for session %s: %v", sessionID, err)
	}
}
