package app

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/handler"
	"github.com/truthsignal/consensus-engine/internal/middleware"
	"github.com/truthsignal/consensus-engine/internal/router"
)

const shutdownTimeout = 10 * time.Second

type httpServer struct {
	app      *fiber.App
	addr     string
	limiters []*middleware.RateLimiter
}

func newHTTPServer(a *App) (*httpServer, error) {
	origins, err := a.Config.AllowedOrigins()
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      "Consensus Engine",
		ServerHeader: "consensus-engine",
		ReadTimeout:  a.Config.RequestTimeout,
		WriteTimeout: a.Config.RequestTimeout,
		// Params and headers end up in the memory store and bus envelopes.
		Immutable: true,
	})

	submit := middleware.NewVoteSubmitRateLimiter()
	read := middleware.NewReadRateLimiter()

	router.Setup(app, &router.Handlers{
		Vote:   handler.NewVoteHandler(a.Service),
		Health: handler.NewHealthHandler(Version, a.healthDeps()...),
	}, router.Options{
		CORSOrigins:   origins,
		Metrics:       a.Metrics,
		Gatherer:      a.Registry,
		SubmitLimiter: submit,
		ReadLimiter:   read,
	})

	return &httpServer{
		app:      app,
		addr:     ":" + a.Config.Port,
		limiters: []*middleware.RateLimiter{submit, read},
	}, nil
}

func (s *httpServer) Name() string { return "http" }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *httpServer) Run(ctx context.Context) error {
	defer func() {
		for _, rl := range s.limiters {
			rl.Close()
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("http: listening")
		errCh <- s.app.Listen(s.addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("http: shutting down")
		return s.app.ShutdownWithTimeout(shutdownTimeout)
	}
}
