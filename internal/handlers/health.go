package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Check reports whether one dependency is reachable.
type Check func(ctx context.Context) error

// HealthHandler handles health check requests
type HealthHandler struct {
	Version string
	Storage string
	checks  map[string]Check
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, storage string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{
		Version: version,
		Storage: storage,
		checks:  checks,
	}
}

// Check returns the health status of the service and its dependencies
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	status := "healthy"
	statusCode := fiber.StatusOK
	deps := fiber.Map{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			log.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			deps[name] = "error"
			status = "unhealthy"
			statusCode = fiber.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":       status,
		"service":      "SignDesk Backend",
		"version":      h.Version,
		"storage":      h.Storage,
		"dependencies": deps,
	})
}
