package v1

import (
	"studyboard-backend/internal/handlers"

	"github.com/gofiber/fiber/v2"
)

// registerAuth exposes token issuing for local development only; production
// tokens come from the identity provider sharing JWT_SECRET
func registerAuth(r fiber.Router, svc *Services) {
	if !svc.DevTokens {
		return
	}
	authHandler := handlers.NewAuthHandler(svc.Tokens)

	r.Post("/auth/token", authHandler.IssueToken)
}
