package cmd

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coreforge/registry/internal/app"
	"github.com/coreforge/registry/internal/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the registry server",
	Long:  `Start the Distribution v2 HTTP server, the bearer-token service, and the background task runtime.`,
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log := newLogger()

	registry, err := app.NewRegistry(cfg, log)
	if err != nil {
		return err
	}

	return registry.Run(context.Background())
}
