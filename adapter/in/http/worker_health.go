// Package http serves the read-only status API: liveness, readiness and
// extraction progress.
package http

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"vitalred_worker/pkg/metrics"

	"github.com/gofiber/fiber/v2"
)

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]HealthChecker
	sqlDB  *sql.DB
}

// NewHealthHandler takes the record store handle for pool statistics; the
// other dependencies are added with Check.
func NewHealthHandler(sqlDB *sql.DB) *HealthHandler {
	return &HealthHandler{checks: make(map[string]HealthChecker), sqlDB: sqlDB}
}

// Check adds a readiness dependency. Nil checkers are reported as not
// configured.
func (h *HealthHandler) Check(name string, c HealthChecker) *HealthHandler {
	h.checks[name] = c
	return h
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		checker := h.checks[name]
		if checker == nil {
			checks[name] = "not configured"
			continue
		}
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			continue
		}
		checks[name] = "healthy"
	}

	body := fiber.Map{"checks": checks}
	if h.sqlDB != nil {
		stats := metrics.GetDBPoolStats(h.sqlDB)
		pool := metrics.AssessDBPoolHealth(stats)
		body["db_pool"] = fiber.Map{"status": pool, "stats": stats}
		if pool == metrics.PoolUnhealthy {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}
	body["status"] = status
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return c.Status(statusCode).JSON(body)
}
