package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/truthsignal/consensus-engine/internal/config"
	"github.com/truthsignal/consensus-engine/internal/middleware"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "consensus-engine",
	Short:         "Community verification consensus engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		middleware.InitLogger(cfg.LogLevel, "consensus-engine")
	},
}

func main() {
	rootCmd.AddCommand(serveCmd(), consumeCmd(), sweepCmd())
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}
