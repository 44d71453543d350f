package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "repairpulse/api/v1"
	"repairpulse/internal/config"
	"repairpulse/internal/http"
)

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// Widgets on the shop's storefront post events cross-origin.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent, X-Forwarded-User-Agent",
}

// NewRouteMounter returns the route mount function serving h.
func NewRouteMounter(h *v1.Handlers) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		MountRoutes(srv, h)
	}
}

// MountRoutes mounts every application route on srv.
func MountRoutes(srv *cartridge.Server, h *v1.Handlers) {
	cfg := config.GetConfig()

	// Rate limiting would interfere with development and tests.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Ingestion gets a generous per-IP budget; a journey rarely emits more
	// than a couple of events per second.
	ingestRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(120),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	readRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(60),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Ingestion is called by browsers and by backend services alike, so
	// Sec-Fetch-Site is not enforced.
	ingestConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CustomMiddleware:   []fiber.Handler{ingestRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	readConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		CustomMiddleware:   []fiber.Handler{readRateLimiter},
		CORSConfig:         publicCORSConfig,
		EnableSecFetchSite: cartridge.Bool(false),
	}

	// Health check endpoint
	health := http.HealthIndexAction(h.Pipeline)
	srv.Get("/_health", health)
	srv.Head("/_health", health)

	// === INGESTION ===
	srv.Post("/api/v1/events", h.CreateEventHandler, ingestConfig)
	srv.Options("/api/v1/events", func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}, ingestConfig)
	srv.Get("/api/v1/events/:id", h.GetEventHandler, readConfig)

	// === ANALYTICS ===
	srv.Get("/api/v1/users/:fingerprint/behavior", h.UserBehaviorHandler, readConfig)
	srv.Get("/api/v1/customers/:id/journey", h.CustomerJourneyHandler, readConfig)
	srv.Get("/api/v1/dashboard", h.DashboardHandler, readConfig)
	srv.Get("/api/v1/revenue", h.RevenueHandler, readConfig)
	srv.Get("/api/v1/rollups/:date", h.RollupsHandler, readConfig)

	// === OPERATIONS ===
	srv.Get("/api/v1/pipeline/stats", h.PipelineStatsHandler, readConfig)
}
