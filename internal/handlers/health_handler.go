package handlers

import (
	"studyboard-backend/internal/whiteboard"

	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	presence *whiteboard.Presence
	relay    *whiteboard.DocRelay
}

func NewHealthHandler(presence *whiteboard.Presence, relay *whiteboard.DocRelay) *HealthHandler {
	return &HealthHandler{presence: presence, relay: relay}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":        "ok",
		"rooms":         h.presence.Rooms(),
		"documentRooms": h.relay.Rooms(),
	})
}
