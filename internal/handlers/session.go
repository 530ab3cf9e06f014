package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"brokerbot/internal/services"
	"brokerbot/internal/storage"
)

// SessionHandler handles session lifecycle HTTP requests
type SessionHandler struct {
	memory *services.MemoryService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(memory *services.MemoryService) *SessionHandler {
	return &SessionHandler{memory: memory}
}

// Create starts a new empty session
// POST /api/sessions
func (h *SessionHandler) Create(c *fiber.Ctx) error {
	sess, err := h.memory.CreateSession(c.Context())
	if err != nil {
		log.Printf("❌ [SESSION] Create failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": sess.SessionID,
		"created_at": sess.CreatedAt,
	})
}

// List returns the ids of all live sessions
// GET /api/sessions
func (h *SessionHandler) List(c *fiber.Ctx) error {
	ids, err := h.memory.ListSessions(c.Context())
	if err != nil {
		log.Printf("❌ [SESSION] List failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}
	if ids == nil {
		ids = []string{}
	}
	return c.JSON(fiber.Map{
		"sessions": ids,
		"count":    len(ids),
	})
}

// Info returns the session's summary counters
// GET /api/sessions/:id
func (h *SessionHandler) Info(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Session ID is required",
		})
	}

	info, err := h.memory.GetSessionInfo(c.Context(), sessionID)
	if err != nil {
		return sessionError(c, sessionID, err)
	}
	return c.JSON(info)
}

// History returns the full ordered transcript
// GET /api/sessions/:id/history
func (h *SessionHandler) History(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Session ID is required",
		})
	}

	history, err := h.memory.GetHistory(c.Context(), sessionID)
	if err != nil {
		return sessionError(c, sessionID, err)
	}
	return c.JSON(history)
}

// Delete removes a session and all its history
// DELETE /api/sessions/:id
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Session ID is required",
		})
	}

	if err := h.memory.DeleteSession(c.Context(), sessionID); err != nil {
		return sessionError(c, sessionID, err)
	}
	return c.JSON(fiber.Map{
		"deleted":    true,
		"session_id": sessionID,
	})
}

// Cleanup sweeps expired sessions on demand
// POST /api/sessions/cleanup
func (h *SessionHandler) Cleanup(c *fiber.Ctx) error {
	removed, err := h.memory.CleanupExpiredSessions(c.Context())
	if err != nil {
		log.Printf("❌ [SESSION] Cleanup failed: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Cleanup failed",
		})
	}
	return c.JSON(fiber.Map{
		"removed": removed,
	})
}

// sessionError maps storage errors to HTTP responses.
func sessionError(c *fiber.Ctx, sessionID string, err error) error {
	if errors.Is(err, storage.ErrSessionNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found or expired",
		})
	}
	log.Printf("❌ [SESSION] Request for %s failed: %v", sessionID, err)
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "Storage unavailable",
	})
}
