package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool

	// Stderr receives log output; nil means os.Stderr.
	Stderr io.Writer
}

// NewRootCommand creates the root command for syncd.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncd",
		Short: "Real-time broker sync client for field devices and schedules",
		Long: `syncd keeps a live MQTT-over-WebSocket session with the IoT broker,
projects device and schedule events into local state and serves that
state over a read-only HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "configs/config.yaml", "path to the YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSignURLCommand(opts))

	return cmd
}

// NewLogger builds the process logger. format is "json" or "console".
func NewLogger(w io.Writer, level, format string, verbose bool) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if verbose {
		lvl = zerolog.DebugLevel
	}

	switch format {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q: must be json or console", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "syncd").Logger(), nil
}
