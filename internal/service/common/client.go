//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/alarm-monitor/internal/api/grpc/station"
	"github.com/oshokin/alarm-monitor/internal/config"
	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
)

// Client wraps the gRPC StationService client with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the monitor.
	conn *grpc.ClientConn
	// api is the StationService client stub.
	api *station.StationServiceClient

	// callTimeout is the default timeout for unary calls.
	callTimeout time.Duration
	// actor is sent with purge calls when set.
	actor string
	// dialOptions are appended to the default dial options.
	dialOptions []grpc.DialOption
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for unary calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithActor attaches the actor to destructive calls.
func WithActor(actor Actor) Option {
	return func(c *Client) {
		c.actor = actor.String()
	}
}

// WithDialOptions adds gRPC dial options, for example a custom dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errStationRequired is returned when a station is not provided but is required for the operation.
	errStationRequired = errors.New("station must be provided")
)

// Dial establishes a gRPC connection to the alarm monitor.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	client := &Client{
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	dialOptions := append(
		[]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		client.dialOptions...)

	// Use the non-context NewClient API recommended by grpc-go
	// (DialContext is deprecated as of grpc-go v1.60+).
	conn, err := grpc.NewClient(address, dialOptions...)
	if err != nil {
		return nil, fmt.Errorf("dial alarm monitor: %w", err)
	}

	client.conn = conn
	client.api = station.NewStationServiceClient(conn)

	return client, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// GetState returns the current status word of a station.
func (c *Client) GetState(ctx context.Context, stationName string) (alarm.Word, error) {
	if stationName == "" {
		return 0, errStationRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.GetState(callCtx, wrapperspb.String(stationName))
	if err != nil {
		return 0, fmt.Errorf("get state: %w", err)
	}

	return alarm.Word(resp.GetValue()), nil //nolint:gosec // The server only sends 16-bit words.
}

// ListHistory returns the newest transitions of a station.
func (c *Client) ListHistory(ctx context.Context, stationName string) ([]alarm.Transition, error) {
	if stationName == "" {
		return nil, errStationRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	resp, err := c.api.ListHistory(callCtx, wrapperspb.String(stationName))
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	events := make([]alarm.Transition, 0, len(resp.GetValues()))

	for _, value := range resp.GetValues() {
		event, err := station.TransitionFromStruct(value.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}

		events = append(events, event)
	}

	return events, nil
}

// PurgeHistory deletes every transition of a station and returns how many were removed.
func (c *Client) PurgeHistory(ctx context.Context, stationName string) (int64, error) {
	if stationName == "" {
		return 0, errStationRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	if c.actor != "" {
		callCtx = metadata.AppendToOutgoingContext(callCtx, station.ActorMetadataKey, c.actor)
	}

	resp, err := c.api.PurgeHistory(callCtx, wrapperspb.String(stationName))
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}

	return resp.GetValue(), nil
}

// Watch streams notifications to handle until ctx is cancelled, the server
// closes the stream or handle returns an error. An empty station watches all.
func (c *Client) Watch(ctx context.Context, stationName string, handle func(*structpb.Struct) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.api.Watch(ctx, wrapperspb.String(stationName))
	if err != nil {
		return fmt.Errorf("open watch stream: %w", err)
	}

	for {
		notification, err := stream.Recv()

		switch {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("receive notification: %w", err)
		}

		if err = handle(notification); err != nil {
			return err
		}
	}
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
