package handlers

import (
	"errors"
	"log"

	"studyboard-backend/internal/libraries"
	"studyboard-backend/internal/models"
	"studyboard-backend/internal/repo"
	"studyboard-backend/internal/whiteboard"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// for simple crud operations service layer is not required
type BoardHandler struct {
	repo     repo.BoardRepoInterface
	elements *whiteboard.ElementService
	rooms    *whiteboard.Rooms
}

func NewBoardHandler(repo repo.BoardRepoInterface, elements *whiteboard.ElementService, rooms *whiteboard.Rooms) *BoardHandler {
	return &BoardHandler{
		repo:     repo,
		elements: elements,
		rooms:    rooms,
	}
}

// callerID is the user authenticated by the bearer middleware
func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals(libraries.LocalsUserID).(string)
	return id
}

// function to create a board
func (h *BoardHandler) CreateBoard(c *fiber.Ctx) error {
	var dto struct {
		Title    string `json:"title"`
		IsPublic bool   `json:"isPublic"`
	}
	if err := c.BodyParser(&dto); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	userID, err := uuid.Parse(callerID(c))
	if err != nil {
		log.Println(err, "Error parsing user id")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user id",
		})
	}
	if dto.Title == "" {
		dto.Title = "Untitled board"
	}

	id, err := h.repo.CreateBoard(c.UserContext(), &models.Board{
		Title:    dto.Title,
		OwnerID:  userID,
		IsPublic: dto.IsPublic,
	})
	if err != nil {
		log.Println(err, "Error creating board")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create board",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"uuid":    id.String(),
		"message": "Board created successfully",
	})
}

// function to get the boards the caller can open
func (h *BoardHandler) GetAllBoards(c *fiber.Ctx) error {
	userID, err := uuid.Parse(callerID(c))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user id",
		})
	}
	boards, err := h.repo.GetAllBoards(c.UserContext())
	if err != nil {
		log.Println(err, "Error getting boards")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get boards",
		})
	}
	visible := make([]models.Board, 0, len(boards))
	for i := range boards {
		if boards[i].CanAccess(userID) {
			visible = append(visible, boards[i])
		}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"boards": visible,
	})
}

// function to get board by ID, elements included
func (h *BoardHandler) GetBoardByID(c *fiber.Ctx) error {
	boardId, err := uuid.Parse(c.Params("boardId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid board ID",
		})
	}

	board, err := h.rooms.Authorize(c.UserContext(), boardId, callerID(c))
	if err != nil {
		return roomError(c, err, "Failed to get board")
	}

	elements, err := h.elements.Snapshot(c.UserContext(), boardId)
	if err != nil {
		log.Println(err, "Error getting board elements")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get board",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"board":    board,
		"elements": elements,
	})
}

// function to clear board
func (h *BoardHandler) ClearBoard(c *fiber.Ctx) error {
	boardId, err := uuid.Parse(c.Params("boardId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid board ID",
		})
	}

	removed, err := h.rooms.ClearBoard(c.UserContext(), boardId, callerID(c))
	if err != nil {
		return roomError(c, err, "Failed to clear board")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Board cleared successfully",
		"removed": removed,
	})
}

// function to grant a user access to a private board
func (h *BoardHandler) AddMember(c *fiber.Ctx) error {
	boardId, err := uuid.Parse(c.Params("boardId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid board ID",
		})
	}

	var dto struct {
		UserID string            `json:"userId"`
		Role   models.MemberRole `json:"role"`
	}
	if err := c.BodyParser(&dto); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	userID, err := uuid.Parse(dto.UserID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user id",
		})
	}
	board, err := h.rooms.Authorize(c.UserContext(), boardId, callerID(c))
	if err != nil {
		return roomError(c, err, "Failed to add member")
	}
	if board.OwnerID.String() != callerID(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Only the owner can add members",
		})
	}
	switch dto.Role {
	case "":
		dto.Role = models.MemberRoleEditor
	case models.MemberRoleEditor, models.MemberRoleViewer:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid role",
		})
	}

	err = h.repo.AddMember(c.UserContext(), boardId, userID, dto.Role)
	if errors.Is(err, repo.ErrBoardNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Board not found",
		})
	}
	if err != nil {
		log.Println(err, "Error adding board member")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add member",
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message": "Member added successfully",
	})
}

func roomError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, whiteboard.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Board not found"})
	case errors.Is(err, whiteboard.ErrAccessDenied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Access denied"})
	}
	log.Println(err, fallback)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": fallback})
}
