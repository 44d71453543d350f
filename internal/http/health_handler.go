package http

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

// PipelineProbe reports whether ingestion is healthy.
type PipelineProbe interface {
	IsRunning() bool
	QueueDepth() int
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	DBStatus       string    `json:"db_status"`
	PipelineStatus string    `json:"pipeline_status"`
	QueueDepth     int       `json:"queue_depth"`
}

// HealthIndexAction handles the health check endpoint. A nil probe skips the
// pipeline check.
func HealthIndexAction(probe PipelineProbe) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		health := HealthStatus{
			Status:         "ok",
			Timestamp:      time.Now().UTC(),
			DBStatus:       databaseStatus(ctx),
			PipelineStatus: "ok",
		}

		if probe != nil {
			health.QueueDepth = probe.QueueDepth()
			if !probe.IsRunning() {
				health.PipelineStatus = "stopped"
			}
		}

		if health.DBStatus != "ok" || health.PipelineStatus != "ok" {
			health.Status = "degraded"
			return ctx.Status(fiber.StatusServiceUnavailable).JSON(health)
		}
		return ctx.JSON(health)
	}
}

func databaseStatus(ctx *cartridge.Context) string {
	db := ctx.DBManager.GetConnection()
	if db == nil {
		ctx.Logger.Error("Database connection unavailable")
		return "error"
	}

	sqlDB, err := db.DB()
	if err != nil {
		ctx.Logger.Error("Database connection error", slog.Any("error", err))
		return "error"
	}
	if err := sqlDB.PingContext(ctx.UserContext()); err != nil {
		ctx.Logger.Error("Database ping failed", slog.Any("error", err))
		return "error"
	}
	return "ok"
}
