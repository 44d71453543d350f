package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"repairpulse/internal/analytics"
	"repairpulse/internal/events"
)

// UserBehaviorHandler returns the behavior profile of a fingerprint over
// ?days= (default 30).
func (h *Handlers) UserBehaviorHandler(ctx *cartridge.Context) error {
	days := ctx.QueryInt("days", analytics.DefaultWindowDays)
	profile, err := h.Analyzer.GetUserBehaviorProfile(ctx.UserContext(), ctx.Params("fingerprint"), days)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(profile)
}

// CustomerJourneyHandler returns the staged journey of a customer.
func (h *Handlers) CustomerJourneyHandler(ctx *cartridge.Context) error {
	days := ctx.QueryInt("days", analytics.DefaultWindowDays)
	journey, err := h.Analyzer.GetCustomerJourney(ctx.UserContext(), ctx.Params("id"), days)
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(journey)
}

// DashboardHandler returns the cached dashboard for ?period=. Responses carry
// an ETag so pollers can revalidate cheaply.
func (h *Handlers) DashboardHandler(ctx *cartridge.Context) error {
	data, err := h.Revenue.GetDashboardData(ctx.UserContext(), ctx.Query("period"))
	if err != nil {
		return handleError(ctx, err)
	}

	body, err := json.Marshal(data)
	if err != nil {
		return handleError(ctx, err)
	}

	tag := etag(body)
	ctx.Set(fiber.HeaderETag, tag)
	ctx.Set(fiber.HeaderCacheControl, "private, max-age=0, must-revalidate")
	if ctx.Get(fiber.HeaderIfNoneMatch) == tag {
		return ctx.SendStatus(http.StatusNotModified)
	}

	ctx.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return ctx.Send(body)
}

// RevenueHandler returns the full revenue report for ?timeframe=.
func (h *Handlers) RevenueHandler(ctx *cartridge.Context) error {
	report, err := h.Revenue.GetRevenueAnalytics(ctx.UserContext(), ctx.Query("timeframe"))
	if err != nil {
		return handleError(ctx, err)
	}
	return ctx.JSON(report)
}

// RollupsHandler returns the daily event and page rollups of :date
// (YYYY-MM-DD, UTC).
func (h *Handlers) RollupsHandler(ctx *cartridge.Context) error {
	date, err := time.ParseInLocation(time.DateOnly, ctx.Params("date"), time.UTC)
	if err != nil {
		return handleError(ctx, &events.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"})
	}

	eventRollups, err := h.Events.GetDailyEventRollups(ctx.UserContext(), date)
	if err != nil {
		return handleError(ctx, err)
	}
	pageRollups, err := h.Events.GetDailyPageRollups(ctx.UserContext(), date)
	if err != nil {
		return handleError(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"date":   date.Format(time.DateOnly),
		"events": eventRollups,
		"pages":  pageRollups,
	})
}
