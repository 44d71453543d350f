package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apphttp "repairpulse/internal/http"
	"repairpulse/internal/testsupport"
)

type fakeProbe struct {
	running bool
	depth   int
}

func (p fakeProbe) IsRunning() bool { return p.running }
func (p fakeProbe) QueueDepth() int { return p.depth }

func healthApp(t *testing.T, probe apphttp.PipelineProbe) *fiber.App {
	t.Helper()
	db := testsupport.SetupTestDB(t)
	return testsupport.CreateTestApp(t, db, func(srv *cartridge.Server) {
		srv.Get("/_health", apphttp.HealthIndexAction(probe))
	})
}

func getHealth(t *testing.T, app *fiber.App) (int, apphttp.HealthStatus) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/_health", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var health apphttp.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	return resp.StatusCode, health
}

func TestHealthIndexAction(t *testing.T) {
	t.Run("running pipeline", func(t *testing.T) {
		status, health := getHealth(t, healthApp(t, fakeProbe{running: true, depth: 3}))
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, "ok", health.DBStatus)
		assert.Equal(t, "ok", health.PipelineStatus)
		assert.Equal(t, 3, health.QueueDepth)
	})

	t.Run("stopped pipeline", func(t *testing.T) {
		status, health := getHealth(t, healthApp(t, fakeProbe{}))
		assert.Equal(t, fiber.StatusServiceUnavailable, status)
		assert.Equal(t, "degraded", health.Status)
		assert.Equal(t, "stopped", health.PipelineStatus)
	})

	t.Run("no probe", func(t *testing.T) {
		status, health := getHealth(t, healthApp(t, nil))
		assert.Equal(t, fiber.StatusOK, status)
		assert.Equal(t, "ok", health.PipelineStatus)
	})
}
