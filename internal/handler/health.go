package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/castreel/api/internal/resilience"
)

// HealthDeps are the components reported by the health endpoint. Nil fields are skipped.
type HealthDeps struct {
	// Services maps an integration name to whether it is configured.
	Services map[string]bool
	Tools    interface{ Status() map[string]bool }
	Breakers interface {
		States() map[string]resilience.State
	}
	Store interface {
		Ping(ctx context.Context) error
	}
}

type HealthHandler struct {
	deps HealthDeps
}

func NewHealthHandler(deps HealthDeps) *HealthHandler {
	return &HealthHandler{deps: deps}
}

// Health handles GET /health
// @Summary      Service health
// @Description  Configured integrations, media tool availability and circuit breaker states
// @Tags         Health
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Failure      503 {object} map[string]interface{}
// @Router       /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := "ok"
	code := fiber.StatusOK
	body := fiber.Map{"services": h.deps.Services}

	if h.deps.Store != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := h.deps.Store.Ping(ctx); err != nil {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
			body["store"] = fiber.Map{"ok": false, "error": err.Error()}
		} else {
			body["store"] = fiber.Map{"ok": true}
		}
	}
	if h.deps.Tools != nil {
		body["mediaTools"] = h.deps.Tools.Status()
	}
	if h.deps.Breakers != nil {
		body["breakers"] = h.deps.Breakers.States()
	}

	body["status"] = status
	return c.Status(code).JSON(body)
}
