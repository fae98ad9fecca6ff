package routes

import (
	"studyboard-backend/internal/api"
	"studyboard-backend/internal/api/routes/v1"
	"studyboard-backend/internal/handlers"
	"studyboard-backend/internal/libraries"

	"github.com/gofiber/fiber/v2"
)

func Register(app *fiber.App, svc *v1.Services) {
	// API v1 group
	apiGroup := app.Group("/api")
	v1Group := apiGroup.Group("/v1")

	// Register v1 routes
	v1.RegisterRoutes(v1Group, svc)

	registerSockets(app, svc)
}

// registerSockets mounts the room protocol and the replicated document
// channel. Both authenticate once, before the upgrade.
func registerSockets(app *fiber.App, svc *v1.Services) {
	syncHandler := handlers.NewSyncHandler(svc.Rooms, svc.CursorRate)
	docHandler := handlers.NewDocHandler(svc.Rooms, svc.Relay)

	guard := []fiber.Handler{api.RequireUpgrade(), api.RequireUser(svc.Tokens)}

	app.Get("/ws", append(guard, libraries.WebSocketHandler(svc.Hub, syncHandler))...)
	app.Get("/ws/crdt/:boardId", append(guard, libraries.WebSocketHandler(svc.Hub, docHandler))...)
}
