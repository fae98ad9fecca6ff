package v1

import (
	"studyboard-backend/internal/handlers"

	"github.com/gofiber/fiber/v2"
)

func registerHealth(r fiber.Router, svc *Services) {
	healthHandler := handlers.NewHealthHandler(svc.Rooms.Presence(), svc.Relay)

	r.Get("/health", healthHandler.Health)
}
