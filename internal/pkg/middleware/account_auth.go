package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mhertel/voxgate/internal/pkg/session"
)

// AccountContextKey is the fiber locals key carrying the authenticated
// account id on self-service routes.
const AccountContextKey = "account_id"

// AccountAuthMiddleware requires a session established by a successful
// access-code login.
func AccountAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := session.GetSessionValue(c, session.AccountIDKey)
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Not authenticated",
			})
		}
		accountID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || accountID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Invalid session",
			})
		}

		c.Locals(AccountContextKey, uint(accountID))
		return c.Next()
	}
}
