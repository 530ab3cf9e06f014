package handlers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"brokerbot/internal/models"
	"brokerbot/internal/services"
	"brokerbot/internal/storage"
)

// ChatHandler handles chat turns
type ChatHandler struct {
	chat *services.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Handle processes one user message and returns the bot's reply
// POST /api/chat
func (h *ChatHandler) Handle(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	resp, err := h.chat.ProcessMessage(c.Context(), req.SessionID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSessionNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found or expired",
			})
		case errors.Is(err, services.ErrInvalidInput):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		case errors.Is(err, storage.ErrStorageUnavailable):
			log.Printf("❌ [CHAT] Storage failure: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Storage unavailable",
			})
		default:
			log.Printf("❌ [CHAT] Processing failed: %v", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "Failed to generate a reply",
			})
		}
	}
	return c.JSON(resp)
}
