package router

import (
	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/truthsignal/consensus-engine/internal/handler"
	"github.com/truthsignal/consensus-engine/internal/metrics"
	"github.com/truthsignal/consensus-engine/internal/middleware"
)

// Handlers holds all handler instances needed by the router.
type Handlers struct {
	Vote   *handler.VoteHandler
	Health *handler.HealthHandler
}

// Options carries the cross-cutting pieces of the middleware stack.
type Options struct {
	// CORSOrigins defaults to any origin when empty.
	CORSOrigins []string
	Metrics     *metrics.Collectors
	Gatherer    prometheus.Gatherer
	// SubmitLimiter and ReadLimiter are optional.
	SubmitLimiter *middleware.RateLimiter
	ReadLimiter   *middleware.RateLimiter
}

// Setup configures the middleware stack and all API routes on the given Fiber app.
func Setup(app *fiber.App, h *Handlers, opts Options) {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(middleware.NewRequestLogger())
	app.Use(handler.MetricsMiddleware(opts.Metrics))
	app.Use(middleware.NewCORS(opts.CORSOrigins))

	app.Get("/health/live", h.Health.Live)
	app.Get("/health/ready", h.Health.Ready)
	if opts.Gatherer != nil {
		app.Get("/metrics", handler.MetricsHandler(opts.Gatherer))
	}

	api := app.Group("/api/v1")

	api.Post("/content/:contentId/votes", limiter(opts.SubmitLimiter), h.Vote.Submit)
	api.Get("/content/:contentId/results", limiter(opts.ReadLimiter), h.Vote.Results)
	api.Get("/content/:contentId/votes/me", limiter(opts.ReadLimiter), h.Vote.MyVote)
	api.Get("/users/me/votes", limiter(opts.ReadLimiter), h.Vote.UserVotes)
}

func limiter(rl *middleware.RateLimiter) fiber.Handler {
	if rl == nil {
		return func(c fiber.Ctx) error { return c.Next() }
	}
	return rl.Handler()
}
