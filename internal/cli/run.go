package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/benmeehan/iot-sync/internal/utils"
	"github.com/benmeehan/iot-sync/pkg/file"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the broker and keep local state in sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, rootOpts)
		},
	}
}

func runDaemon(ctx context.Context, opts *RootOptions) error {
	config, err := utils.LoadConfig(opts.ConfigFile, file.NewFileService())
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return err
	}

	logger, err := NewLogger(opts.Stderr, config.Log.Level, config.Log.Format, opts.Verbose)
	if err != nil {
		return err
	}

	d, err := NewDaemon(ctx, config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build daemon")
		return err
	}

	if err := d.Registry.StartServices(); err != nil {
		return err
	}
	logger.Info().Str("client_id", d.ClientID).Msg("All services started successfully")

	<-ctx.Done()

	logger.Info().Msg("Shutting down gracefully...")
	return d.Registry.StopServices()
}
