package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-monitor/internal/config"
	"github.com/oshokin/alarm-monitor/internal/logger"
	"github.com/oshokin/alarm-monitor/internal/service/monitor"
	"github.com/oshokin/alarm-monitor/internal/version"
)

// errInvalidLogLevel is returned for unknown --log-level values.
var errInvalidLogLevel = errors.New("invalid log level")

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the configured log level when set.
	logLevel string
	// grpcAddress overrides the configured gRPC listen address.
	grpcAddress string

	// rootCmd runs the alarm monitor.
	rootCmd = &cobra.Command{
		Use:   "alarm-monitor [listen-address]",
		Short: "Decode station status words into alarm transitions and stream them.",
		Long: `Starts the alarm monitor.

The monitor subscribes to the configured MQTT topic or NATS subject, decodes every
2-byte status word into per-channel ACTIVATED/DEACTIVATED transitions, stores them
in the history database and streams them to SSE, WebSocket and gRPC observers.
The HTTP listen address can be provided as argument to override config (e.g., :3000).`,
		Args:              cobra.MaximumNArgs(1),
		PersistentPreRunE: applyLogLevel,
		RunE:              serve,
	}

	// serveCmd is the explicit form of running the root command.
	serveCmd = &cobra.Command{
		Use:   "serve [listen-address]",
		Short: "Run the alarm monitor (same as running without a subcommand).",
		Args:  cobra.MaximumNArgs(1),
		RunE:  serve,
	}
)

func serve(_ *cobra.Command, args []string) error {
	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Use listen address argument if provided, otherwise rely on config.
	var listenAddress string
	if len(args) > 0 {
		listenAddress = args[0]
	}

	return monitor.Run(ctx, &monitor.Options{
		ConfigPath:    configPath,
		ListenAddress: listenAddress,
		GRPCAddress:   grpcAddress,
		LogLevelSet:   logLevel != "",
	})
}

// Execute runs the alarm-monitor CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	err := rootCmd.Execute()

	logger.Sync()

	if err != nil {
		os.Exit(1)
	}
}

func applyLogLevel(_ *cobra.Command, _ []string) error {
	if logLevel == "" {
		return nil
	}

	level, ok := logger.ParseLogLevel(logLevel)
	if !ok {
		return fmt.Errorf("%w: %q", errInvalidLogLevel, logLevel)
	}

	logger.SetLevel(level)

	return nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	for _, command := range []*cobra.Command{rootCmd, serveCmd} {
		command.Flags().StringVar(&grpcAddress, "grpc-address", "", "gRPC listen address, overrides config")
	}

	rootCmd.AddCommand(serveCmd, stateCmd, historyCmd, purgeCmd, watchCmd)
}
