package station

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/alarm-monitor/internal/broadcast"
	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/logger"
	"github.com/oshokin/alarm-monitor/internal/repository/history"
)

// ActorMetadataKey carries the user@host of the caller on destructive calls.
const ActorMetadataKey = "x-alarm-actor"

// State abstracts the engine reads the transport depends on.
type State interface {
	Baseline(station string) alarm.Word
	Snapshot(stations ...string) []broadcast.Notification
}

// History abstracts history reads and purges.
type History interface {
	Query(ctx context.Context, station string, limit int) ([]alarm.Transition, error)
	Purge(ctx context.Context, station string) (int64, error)
}

// Server implements the StationService gRPC API.
type Server struct {
	// state provides baselines and snapshots.
	state State
	// history provides stored transitions.
	history History
	// hub registers Watch observers.
	hub *broadcast.Hub
}

// NewServer wires the provided dependencies into a gRPC handler.
func NewServer(state State, history History, hub *broadcast.Hub) *Server {
	return &Server{
		state:   state,
		history: history,
		hub:     hub,
	}
}

// GetState returns the current status word of a station.
func (s *Server) GetState(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.UInt32Value, error) {
	station, err := requireStation(req)
	if err != nil {
		return nil, err
	}

	return wrapperspb.UInt32(uint32(s.state.Baseline(station))), nil
}

// ListHistory returns the newest transitions of a station.
func (s *Server) ListHistory(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	station, err := requireStation(req)
	if err != nil {
		return nil, err
	}

	events, err := s.history.Query(ctx, station, history.MaxQueryLimit)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to query history", "station", station, "error", err)

		return nil, status.Error(codes.Internal, "unable to query history")
	}

	values := make([]*structpb.Value, 0, len(events))
	for _, event := range events {
		values = append(values, structpb.NewStructValue(TransitionToStruct(event)))
	}

	return &structpb.ListValue{Values: values}, nil
}

// PurgeHistory deletes every transition of a station.
func (s *Server) PurgeHistory(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.Int64Value, error) {
	station, err := requireStation(req)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "station", station, "actor", callerActor(ctx))

	deleted, err := s.history.Purge(ctx, station)
	if err != nil {
		logger.ErrorKV(ctx, "Failed to purge history", "error", err)

		return nil, status.Error(codes.Internal, "unable to purge history")
	}

	logger.InfoKV(ctx, "History purged over gRPC", "deleted", deleted)

	return wrapperspb.Int64(deleted), nil
}

// Watch streams notifications to the caller until it disconnects or the hub closes.
func (s *Server) Watch(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	var stations []string
	if station := strings.TrimSpace(req.GetValue()); station != "" {
		stations = []string{station}
	}

	observer, err := s.hub.Subscribe(stations, func() []broadcast.Notification {
		return s.state.Snapshot(stations...)
	})
	if err != nil {
		if errors.Is(err, broadcast.ErrClosed) {
			return status.Error(codes.Unavailable, "server is shutting down")
		}

		return status.Error(codes.Internal, "unable to subscribe")
	}

	defer s.hub.Unsubscribe(observer)

	ctx := logger.WithKV(stream.Context(), "observer", observer.ID())
	logger.DebugKV(ctx, "Watch stream opened", "stations", stations)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-observer.Done():
			return status.Error(codes.Unavailable, "server is shutting down")
		case msg := <-observer.C():
			document := new(structpb.Struct)
			if err = protojson.Unmarshal(msg.Payload, document); err != nil {
				return status.Error(codes.Internal, "unable to encode notification")
			}

			if err = stream.Send(document); err != nil {
				logger.DebugKV(ctx, "Watch stream send failed", "error", err)

				return err
			}
		}
	}
}

// callerActor returns the actor sent by the client, "unknown" when absent.
func callerActor(ctx context.Context) string {
	if values := metadata.ValueFromIncomingContext(ctx, ActorMetadataKey); len(values) > 0 {
		return values[0]
	}

	return "unknown"
}

func requireStation(req *wrapperspb.StringValue) (string, error) {
	station := strings.TrimSpace(req.GetValue())
	if station == "" {
		return "", status.Error(codes.InvalidArgument, "station is required")
	}

	return station, nil
}
