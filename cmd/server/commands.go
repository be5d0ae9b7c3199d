package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/truthsignal/consensus-engine/internal/app"
)

const closeTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var withConsumers, withSweeper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the vote API",
		Long: "Serve the vote API. With the in-memory event bus the consumers always run " +
			"in this process, since nothing else can see its queues.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var comps []app.Component
				if withConsumers || a.InProcessBus() {
					cs, err := a.Consumers(ctx)
					if err != nil {
						return err
					}
					comps = append(comps, cs...)
				}
				if withSweeper {
					comps = append(comps, a.Sweeper())
				}
				// Built last so readiness sees the consumer collaborators.
				srv, err := a.HTTPServer()
				if err != nil {
					return err
				}
				comps = append(comps, srv)
				return run(ctx, comps)
			})
		},
	}
	cmd.Flags().BoolVar(&withConsumers, "consumers", false, "also run every queue consumer")
	cmd.Flags().BoolVar(&withSweeper, "sweeper", true, "run the outbox sweeper")
	return cmd
}

func consumeCmd() *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Run the queue consumers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				comps, err := a.Consumers(ctx, only...)
				if err != nil {
					return err
				}
				return run(ctx, comps)
			})
		},
	}
	cmd.Flags().StringSliceVar(&only, "only", nil,
		"consumers to run (prescreen, search-index, notification, ai-feedback, content-status)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Publish stranded outbox entries once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				published, failed, err := a.Sweeper().SweepOnce(ctx)
				log.Info().Int("published", published).Int("failed", failed).Msg("sweep: done")
				return err
			})
		},
	}
}

// withApp builds the App under a signal-aware context and closes it after fn.
func withApp(parent context.Context, fn func(ctx context.Context, a *app.App) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		a.Close(closeCtx)
	}()

	log.Info().
		Str("environment", cfg.Environment).
		Str("storage", cfg.StorageDriver).
		Str("event_bus", cfg.EventBus).
		Msg("consensus-engine starting")
	return fn(ctx, a)
}

// run supervises components; the first failure cancels the rest.
func run(ctx context.Context, comps []app.Component) error {
	grp, grpCtx := errgroup.WithContext(ctx)
	for _, c := range comps {
		grp.Go(func() error {
			err := c.Run(grpCtx)
			if err != nil && grpCtx.Err() == nil {
				log.Error().Err(err).Str("component", c.Name()).Msg("component stopped")
			}
			return err
		})
	}
	err := grp.Wait()
	if ctx.Err() != nil {
		log.Info().Msg("shutdown complete")
		return nil
	}
	return err
}
