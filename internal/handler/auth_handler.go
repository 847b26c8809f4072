package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/castreel/api/internal/auth"
	"github.com/castreel/api/internal/middleware"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	verifier auth.TokenVerifier
}

func NewAuthHandler(verifier auth.TokenVerifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify, called by the gateway's ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	if h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	tokenString, ok := middleware.BearerToken(c.Get("Authorization"))
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	claims, err := h.verifier.Validate(tokenString)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}
	c.Set(middleware.HeaderUserID, claims.UserID)
	c.Set(middleware.HeaderUserEmail, claims.Email)
	c.Set(middleware.HeaderUserName, claims.Name)
	return c.SendStatus(fiber.StatusOK)
}
