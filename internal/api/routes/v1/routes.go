package v1

import (
	"studyboard-backend/internal/libraries"
	"studyboard-backend/internal/repo"
	"studyboard-backend/internal/whiteboard"

	"github.com/gofiber/fiber/v2"
)

// Services are the long lived components the routes are wired to
type Services struct {
	Boards     repo.BoardRepoInterface
	Elements   *whiteboard.ElementService
	Rooms      *whiteboard.Rooms
	Relay      *whiteboard.DocRelay
	Hub        *libraries.Hub
	Tokens     *libraries.TokenService
	CursorRate float64
	DevTokens  bool
}

func RegisterRoutes(r fiber.Router, svc *Services) {
	registerHealth(r, svc)
	registerAuth(r, svc)

	registerBoard(r, svc)
}
