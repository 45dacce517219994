package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/config"
	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Service        string    `json:"service"`
	Environment    string    `json:"environment"`
	AIProvider     string    `json:"ai_provider,omitempty"`
	GradingWorkers int       `json:"grading_workers,omitempty"`
}

// HealthCheck reports liveness along with the grading configuration in effect.
func HealthCheck(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return utils.SendSuccess(c, "service healthy", HealthResponse{
			Status:         "ok",
			Timestamp:      time.Now().UTC(),
			Service:        cfg.AppName,
			Environment:    cfg.AppEnv,
			AIProvider:     cfg.AIProvider,
			GradingWorkers: cfg.GradingWorkers,
		})
	}
}
