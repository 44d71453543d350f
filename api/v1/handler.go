// Package v1 exposes event ingestion and the analytics read paths over HTTP.
package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"repairpulse/internal/analytics"
	"repairpulse/internal/events"
	"repairpulse/internal/pipeline"
	"repairpulse/internal/revenue"
)

const (
	msgEventAccepted  = "Event accepted"
	errInvalidRequest = "Invalid request"

	codeValidation  = "VALIDATION_ERROR"
	codeQueueFull   = "QUEUE_FULL"
	codeUnavailable = "PIPELINE_UNAVAILABLE"
	codeNotFound    = "NOT_FOUND"
	codeQuery       = "QUERY_ERROR"
	codeInternal    = "INTERNAL_ERROR"

	retryAfterSeconds = 5
)

// Handlers holds the services the API routes call into.
type Handlers struct {
	Pipeline *pipeline.Pipeline
	Events   *events.Store
	Analyzer *analytics.Analyzer
	Revenue  *revenue.Engine
}

// CreateEventHandler accepts one raw event. Validation failures are reported
// synchronously; everything else is persisted asynchronously.
func (h *Handlers) CreateEventHandler(ctx *cartridge.Context) error {
	var raw events.RawEvent
	if err := ctx.BodyParser(&raw); err != nil || raw == nil {
		ctx.Logger.Debug("Failed to parse event body", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": errInvalidRequest,
			"code":  codeValidation,
		})
	}

	if _, ok := raw["ip_address"]; !ok {
		if _, ok := raw["ipAddress"]; !ok {
			raw["ip_address"] = clientIP(ctx.Ctx)
		}
	}
	if _, ok := raw["user_agent"]; !ok {
		if _, ok := raw["userAgent"]; !ok {
			userAgent := ctx.Get(fiber.HeaderUserAgent)
			if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
				userAgent = forwardedUA
			}
			raw["user_agent"] = userAgent
		}
	}

	result, err := h.Pipeline.ProcessEvent(ctx.UserContext(), raw)
	if err != nil {
		return handleError(ctx, err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
		"message":     msgEventAccepted,
		"status":      http.StatusAccepted,
		"event_id":    result.EventID,
		"queue_depth": result.QueueDepth,
	})
}

// GetEventHandler returns an event from the cache of just-ingested events,
// falling back to the store.
func (h *Handlers) GetEventHandler(ctx *cartridge.Context) error {
	id := ctx.Params("id")
	if event, ok := h.Pipeline.CachedEvent(ctx.UserContext(), id); ok {
		ctx.Set("X-Cache", "HIT")
		return ctx.JSON(event)
	}

	event, err := h.Events.GetEvent(ctx.UserContext(), id)
	if err != nil {
		return handleError(ctx, err)
	}
	ctx.Set("X-Cache", "MISS")
	return ctx.JSON(event)
}

// PipelineStatsHandler reports pipeline counters and table sizes.
func (h *Handlers) PipelineStatsHandler(ctx *cartridge.Context) error {
	stored, err := h.Events.Stats(ctx.UserContext())
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(fiber.Map{
		"pipeline": h.Pipeline.Stats(),
		"store":    stored,
	})
}

// handleError maps domain errors onto HTTP responses.
func handleError(ctx *cartridge.Context, err error) error {
	var (
		validationErr *events.ValidationError
		queryErr      *events.QueryError
		fiberErr      *fiber.Error
	)

	switch {
	case errors.As(err, &validationErr):
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": validationErr.Error(),
			"field": validationErr.Field,
			"code":  codeValidation,
		})
	case errors.Is(err, pipeline.ErrQueueFull):
		ctx.Logger.Warn("Rejecting event, queue is full")
		ctx.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfterSeconds))
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Ingestion queue is full, retry later",
			"code":  codeQueueFull,
		})
	case errors.Is(err, pipeline.ErrNotRunning):
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Ingestion pipeline is not running",
			"code":  codeUnavailable,
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
			"code":  codeNotFound,
		})
	case errors.As(err, &queryErr):
		ctx.Logger.Error("Query failed", slog.String("query", queryErr.Query), slog.Any("error", queryErr.Err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load " + queryErr.Query,
			"code":  codeQuery,
		})
	case errors.As(err, &fiberErr):
		return ctx.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	ctx.Logger.Error("Request failed", slog.String("path", ctx.Path()), slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
		"code":  codeInternal,
	})
}
