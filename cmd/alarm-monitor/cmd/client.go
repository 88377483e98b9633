package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-monitor/internal/config"
	"github.com/oshokin/alarm-monitor/internal/logger"
	"github.com/oshokin/alarm-monitor/internal/service/common"
)

var (
	// serverAddress is the gRPC address of a running monitor.
	serverAddress string
	// watchStation limits watch to one station.
	watchStation string
	// historyLimit caps the number of printed transitions.
	historyLimit int

	// errServerAddressRequired is returned when neither flag nor config names the gRPC server.
	errServerAddressRequired = errors.New("server address must be provided with --server or grpc.listen_address")

	// stateCmd prints the current status word of a station.
	stateCmd = &cobra.Command{
		Use:   "state <station>",
		Short: "Print the current status word and active alarms of a station.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, client *common.Client, args []string) error {
			word, err := client.GetState(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "%s: 0x%04X\n", args[0], uint16(word))

			for _, name := range word.Active() {
				fmt.Fprintf(out, "  %s\n", name)
			}

			return nil
		}),
	}

	// historyCmd prints the newest transitions of a station.
	historyCmd = &cobra.Command{
		Use:   "history <station>",
		Short: "Print the newest alarm transitions of a station.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, client *common.Client, args []string) error {
			events, err := client.ListHistory(ctx, args[0])
			if err != nil {
				return err
			}

			if historyLimit > 0 && len(events) > historyLimit {
				events = events[:historyLimit]
			}

			out := cmd.OutOrStdout()

			for _, event := range events {
				fmt.Fprintf(out, "%s  %-11s  %s\n",
					event.Timestamp.Format(time.RFC3339), event.State, event.AlarmName)
			}

			return nil
		}),
	}

	// purgeCmd deletes every transition of a station.
	purgeCmd = &cobra.Command{
		Use:   "purge <station>",
		Short: "Delete the alarm history of a station.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, client *common.Client, args []string) error {
			deleted, err := client.PurgeHistory(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d transitions of %s\n", deleted, args[0])

			return nil
		}),
	}

	// watchCmd streams notifications until interrupted.
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Stream state and history notifications as JSON lines.",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, cmd *cobra.Command, client *common.Client, _ []string) error {
			out := cmd.OutOrStdout()

			return client.Watch(ctx, watchStation, func(notification *structpb.Struct) error {
				line, err := protojson.Marshal(notification)
				if err != nil {
					return fmt.Errorf("marshal notification: %w", err)
				}

				_, err = fmt.Fprintf(out, "%s\n", line)

				return err
			})
		}),
	}
)

// clientAction is a subcommand body that talks to a running monitor.
type clientAction func(ctx context.Context, cmd *cobra.Command, client *common.Client, args []string) error

// withClient resolves the server address, dials it and runs action.
func withClient(action clientAction) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		// Setup graceful shutdown handling.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		ctx = logger.WithName(ctx, "alarm-monitor-client")

		address, timeout, err := resolveServer(serverAddress, configPath)
		if err != nil {
			return err
		}

		options := []common.Option{common.WithCallTimeout(timeout)}

		actor, err := common.DetectActor()
		if err != nil {
			logger.WarnKV(ctx, "Failed to detect actor", "error", err)
		} else {
			options = append(options, common.WithActor(actor))
		}

		client, err := common.Dial(ctx, address, options...)
		if err != nil {
			return err
		}

		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.ErrorKV(ctx, "Failed to close client", "error", closeErr)
			}
		}()

		return action(ctx, cmd, client, args)
	}
}

// resolveServer picks the gRPC address from the flag or the configuration file.
// A configured listen address without host is dialed on the loopback interface.
func resolveServer(flagAddress, path string) (string, time.Duration, error) {
	timeout := config.DefaultTimeout

	settings, err := config.Load(path)

	switch {
	case err == nil:
		timeout = settings.GRPC.Timeout
	case flagAddress == "":
		return "", 0, fmt.Errorf("load settings: %w", err)
	}

	if flagAddress != "" {
		return flagAddress, timeout, nil
	}

	address := settings.GRPC.ListenAddress
	if address == "" {
		return "", 0, errServerAddressRequired
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid grpc address: %w", err)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return net.JoinHostPort(host, port), timeout, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	for _, command := range []*cobra.Command{stateCmd, historyCmd, purgeCmd, watchCmd} {
		command.Flags().StringVarP(&serverAddress, "server", "s", "", "gRPC address of a running monitor")
	}

	watchCmd.Flags().StringVar(&watchStation, "station", "", "watch a single station")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "print at most this many transitions (server caps at 200)")

}
