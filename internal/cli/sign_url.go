package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/benmeehan/iot-sync/internal/utils"
	"github.com/benmeehan/iot-sync/pkg/file"
	"github.com/benmeehan/iot-sync/pkg/sigv4"
)

// NewSignURLCommand creates the sign-url command.
func NewSignURLCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sign-url",
		Short: "Print a freshly presigned broker URL",
		Long: `Fetch credentials the same way "run" does and print a presigned
WebSocket URL for the configured broker. Only the access key id is logged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := signURL(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), url)
			return err
		},
	}
}

func signURL(ctx context.Context, opts *RootOptions) (string, error) {
	fileClient := file.NewFileService()
	config, err := utils.LoadConfig(opts.ConfigFile, fileClient)
	if err != nil {
		return "", err
	}
	if err := config.Validate(); err != nil {
		return "", err
	}

	logger, err := NewLogger(opts.Stderr, config.Log.Level, config.Log.Format, opts.Verbose)
	if err != nil {
		return "", err
	}

	provider, err := NewCredentialsProvider(ctx, config, fileClient, logger)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, config.Broker.ConnectTimeout)
	defer cancel()
	creds, err := provider.Retrieve(ctx)
	if err != nil {
		return "", err
	}

	url, err := sigv4.NewPresigner(config.Broker.Endpoint, config.Broker.Region).PresignURL(creds, time.Now())
	if err != nil {
		return "", err
	}
	logger.Info().
		Str("access_key_id", creds.AccessKeyID).
		Bool("session_token", creds.SessionToken != "").
		Msg("Presigned broker URL")
	return url, nil
}
