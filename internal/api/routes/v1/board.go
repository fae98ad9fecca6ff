package v1

import (
	"studyboard-backend/internal/api"
	"studyboard-backend/internal/handlers"

	"github.com/gofiber/fiber/v2"
)

func registerBoard(r fiber.Router, svc *Services) {
	// Initialize handler
	boardHandler := handlers.NewBoardHandler(svc.Boards, svc.Elements, svc.Rooms)

	boards := r.Group("/boards", api.RequireUser(svc.Tokens))

	// Register routes
	boards.Get("/", boardHandler.GetAllBoards)
	boards.Post("/", boardHandler.CreateBoard)
	boards.Get("/:boardId", boardHandler.GetBoardByID)
	boards.Delete("/:boardId/clear", boardHandler.ClearBoard)
	boards.Post("/:boardId/members", boardHandler.AddMember)
}
