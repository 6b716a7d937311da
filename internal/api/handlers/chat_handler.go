package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/policy-chatbot/backend/internal/chat"
	"github.com/policy-chatbot/backend/internal/session"
	"github.com/policy-chatbot/backend/pkg/logger"
)

type ChatHandler struct {
	orchestrator *chat.Orchestrator
}

func NewChatHandler(orchestrator *chat.Orchestrator) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
			"kind":  "invalid_input",
		})
	}

	response, err := h.orchestrator.Handle(c.Context(), req.SessionID, req.Message)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(fiber.Map{
		"session_id": response.SessionID,
		"answer":     response.Answer,
		"sources":    response.Sources,
		"route":      response.Route,
		"persisted":  response.Persisted,
	})
}

func (h *ChatHandler) GetHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
			"kind":  "invalid_input",
		})
	}

	turns, err := h.orchestrator.History(c.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
				"kind":  "session_not_found",
			})
		}
		logger.Error("Failed to load session history", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Session store unavailable",
			"kind":  "upstream_unavailable",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"turns":      turns,
	})
}

func (h *ChatHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message must not be empty",
			"kind":  "invalid_input",
		})
	case errors.Is(err, chat.ErrUpstreamUnavailable):
		logger.Error("Upstream dependency unavailable", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":     "A backing service is unavailable, please retry",
			"kind":      "upstream_unavailable",
			"retryable": true,
		})
	case errors.Is(err, chat.ErrSynthesisFailure):
		logger.Error("Answer synthesis failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":     "Failed to generate an answer, please retry",
			"kind":      "synthesis_failure",
			"retryable": true,
		})
	default:
		logger.Error("Failed to handle chat message", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to handle message",
			"kind":  "internal",
		})
	}
}
