package models

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether the role is one the API accepts.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single conversation message. Messages are immutable once
// created; TokenCount is the estimate computed at ingestion time.
type Message struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	TokenCount int       `json:"token_count"`
}

// Chunk is a sealed group of older messages. A chunk is never mutated after
// it is appended to a session; only the sequence of chunks grows.
type Chunk struct {
	ChunkID     string    `json:"chunk_id"`
	Messages    []Message `json:"messages"`
	TotalTokens int       `json:"total_tokens"`
	CreatedAt   time.Time `json:"created_at"`
	Summary     string    `json:"summary,omitempty"`
}

// Session is the persisted state of one conversation. ActiveMessages is the
// current window of not-yet-chunked messages; Chunks are ordered oldest
// first. TotalMessages counts every message ever added, chunked or not.
type Session struct {
	SessionID      string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	ActiveMessages []Message `json:"active_messages"`
	Chunks         []Chunk   `json:"chunks"`
	TotalMessages  int       `json:"total_messages"`
}

// ActiveTokens returns the token total of the current window.
func (s *Session) ActiveTokens() int {
	total := 0
	for _, m := range s.ActiveMessages {
		total += m.TokenCount
	}
	return total
}

// EstimatedTotalTokens returns the token total across the active window and
// every sealed chunk.
func (s *Session) EstimatedTotalTokens() int {
	total := s.ActiveTokens()
	for _, c := range s.Chunks {
		total += c.TotalTokens
	}
	return total
}

// Touch bumps LastActivity, keeping it monotone.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// ContextMessage is one entry of the assembled LLM context.
type ContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationInfo is returned by add-message and session-info calls.
type ConversationInfo struct {
	SessionID            string    `json:"session_id"`
	CreatedAt            time.Time `json:"created_at"`
	LastActivity         time.Time `json:"last_activity"`
	TotalMessages        int       `json:"total_messages"`
	TotalChunks          int       `json:"total_chunks"`
	CurrentMessagesCount int       `json:"current_messages_count"`
	EstimatedTotalTokens int       `json:"estimated_total_tokens"`
}

// History is the full read-through view of a session: every sealed chunk
// with its boundaries and summary intact, then the active window.
type History struct {
	SessionID      string    `json:"session_id"`
	ActiveMessages []Message `json:"active_messages"`
	Chunks         []Chunk   `json:"chunks"`
}

// AllMessages flattens the history into one ordered transcript, chunked
// messages first, then the active window.
func (h *History) AllMessages() []Message {
	total := len(h.ActiveMessages)
	for _, c := range h.Chunks {
		total += len(c.Messages)
	}
	out := make([]Message, 0, total)
	for _, c := range h.Chunks {
		out = append(out, c.Messages...)
	}
	out = append(out, h.ActiveMessages...)
	return out
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse is the reply returned by POST /api/chat.
type ChatResponse struct {
	SessionID string            `json:"session_id"`
	Reply     string            `json:"reply"`
	Info      *ConversationInfo `json:"conversation"`
}
