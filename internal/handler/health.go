package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
)

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Dependency is one readiness check. A nil Check reports "disabled". Optional
// dependencies degrade the report without failing the probe.
type Dependency struct {
	Name     string
	Check    Pinger
	Optional bool
}

type HealthHandler struct {
	deps    []Dependency
	version string
	startAt time.Time
}

func NewHealthHandler(version string, deps ...Dependency) *HealthHandler {
	return &HealthHandler{
		deps:    deps,
		version: version,
		startAt: time.Now(),
	}
}

// Live handles GET /health/live, the liveness probe.
func (h *HealthHandler) Live(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready handles GET /health/ready, the readiness probe.
func (h *HealthHandler) Ready(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	checks := make(fiber.Map, len(h.deps))
	overallStatus := "healthy"

	for _, d := range h.deps {
		res := check(ctx, d.Check)
		checks[d.Name] = res
		if res["status"] != "down" {
			continue
		}
		if d.Optional {
			if overallStatus == "healthy" {
				overallStatus = "degraded"
			}
			continue
		}
		overallStatus = "unhealthy"
	}

	resp := fiber.Map{
		"status":         overallStatus,
		"checks":         checks,
		"uptime_seconds": int(time.Since(h.startAt).Seconds()),
		"version":        h.version,
	}

	status := fiber.StatusOK
	if overallStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(resp)
}

func check(ctx context.Context, p Pinger) fiber.Map {
	if p == nil {
		return fiber.Map{"status": "disabled"}
	}

	start := time.Now()
	err := p.Ping(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return fiber.Map{
			"status":     "down",
			"latency_ms": latency,
			"error":      "connection failed",
		}
	}
	return fiber.Map{
		"status":     "up",
		"latency_ms": latency,
	}
}
