package middleware

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/castreel/api/internal/auth"
	"github.com/castreel/api/pkg/response"
)

// Identity headers the gateway copies from a successful /auth/verify response.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// maxUserIDLength matches the owner_id column of composite jobs.
const maxUserIDLength = 255

// GatewayAuthMiddleware trusts the identity forwarded by the gateway. Only
// mount it when the API is reachable through the gateway alone; jobs are
// owned by whatever user ID arrives here.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		if utf8.RuneCountInString(userID) > maxUserIDLength {
			return response.Unauthorized(c, "Invalid user identity")
		}

		setIdentity(c, &auth.Claims{
			UserID: userID,
			Email:  c.Get(HeaderUserEmail),
			Name:   c.Get(HeaderUserName),
		})
		return c.Next()
	}
}
