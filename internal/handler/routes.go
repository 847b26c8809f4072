package handler

import (
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/castreel/api/internal/middleware"
	ws "github.com/castreel/api/internal/websocket"
	"github.com/castreel/api/pkg/response"
)

// Routes collects everything mounted on the fiber app.
type Routes struct {
	Composite *CompositeHandler
	Health    *HealthHandler
	Auth      *AuthHandler
	Hub       *ws.Hub
	// APIAuth guards /api. Required.
	APIAuth     fiber.Handler
	RateLimiter *middleware.RateLimiter
	// CompositesPerHour and PreviewPerMin apply when RateLimiter is set.
	CompositesPerHour int
	PreviewPerMin     int
	// ArtifactDir is served at /artifacts when artifacts are stored on local disk.
	ArtifactDir string
}

func RegisterRoutes(app *fiber.App, r Routes) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	if r.Health != nil {
		app.Get("/health", r.Health.Health)
	}
	if r.Auth != nil {
		// ForwardAuth verification endpoint (internal, called by the gateway)
		app.Get("/auth/verify", r.Auth.Verify)
	}
	if r.ArtifactDir != "" {
		app.Static("/artifacts", r.ArtifactDir, fiber.Static{ByteRange: true})
	}

	createLimit := passThrough
	previewLimit := passThrough
	if r.RateLimiter != nil {
		createLimit = r.RateLimiter.CompositeLimit(r.CompositesPerHour)
		previewLimit = r.RateLimiter.PreviewLimit(r.PreviewPerMin)
	}

	api := app.Group("/api", r.APIAuth)

	composites := api.Group("/composites")
	composites.Post("/", createLimit, r.Composite.Start)
	composites.Get("/:jobId", r.Composite.Status)
	composites.Post("/:jobId/cancel", r.Composite.Cancel)
	composites.Post("/:jobId/retry", createLimit, r.Composite.Retry)

	api.Post("/segments/preview", previewLimit, r.Composite.Preview)

	if r.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/composites/:jobId", websocket.New(func(c *websocket.Conn) {
			r.Hub.HandleConnection(c, c.Params("jobId"))
		}))
	}
}

func passThrough(c *fiber.Ctx) error {
	return c.Next()
}

// ErrorHandler renders errors that escape handlers in the API's error format.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code := response.CodeServiceError
			switch fe.Code {
			case fiber.StatusNotFound:
				code = response.CodeNotFound
			case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
				code = response.CodeValidationError
			case fiber.StatusUnauthorized:
				code = response.CodeUnauthorized
			}
			return response.Error(c, fe.Code, code, fe.Message, nil)
		}

		logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return response.ServiceError(c, "Internal Server Error")
	}
}
