package handlers

import (
	"log"
	"time"

	"studyboard-backend/internal/libraries"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const devTokenTTL = 24 * time.Hour

type AuthHandler struct {
	tokens *libraries.TokenService
}

func NewAuthHandler(tokens *libraries.TokenService) *AuthHandler {
	return &AuthHandler{tokens: tokens}
}

// IssueToken signs a token for the given user id, or a fresh one
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var dto struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	if err := c.BodyParser(&dto); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if dto.UserID == "" {
		dto.UserID = uuid.NewString()
	} else if _, err := uuid.Parse(dto.UserID); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user id",
		})
	}

	token, err := h.tokens.Issue(dto.UserID, dto.Name, devTokenTTL)
	if err != nil {
		log.Println(err, "Error issuing token")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to issue token",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token":  token,
		"userId": dto.UserID,
	})
}
