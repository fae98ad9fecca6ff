package api

import (
	"strings"

	"studyboard-backend/internal/libraries"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// bearerToken reads the Authorization header, falling back to the token
// query parameter browsers use for websocket handshakes
func bearerToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

// RequireUser validates the bearer token and stores its subject under
// libraries.LocalsUserID. Requests without a valid token get 401.
func RequireUser(tokens *libraries.TokenService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid bearer token")
		}
		c.Locals(libraries.LocalsUserID, claims.Subject)
		return c.Next()
	}
}

// RequireUpgrade rejects plain HTTP requests to websocket routes
func RequireUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}
