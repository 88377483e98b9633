package station

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alarmmonitor.v1.StationService"

// Full method names.
const (
	FullMethodGetState     = "/" + ServiceName + "/GetState"
	FullMethodListHistory  = "/" + ServiceName + "/ListHistory"
	FullMethodPurgeHistory = "/" + ServiceName + "/PurgeHistory"
	FullMethodWatch        = "/" + ServiceName + "/Watch"
)

// StationServiceServer is the server API of the StationService.
type StationServiceServer interface {
	// GetState returns the current status word of a station.
	GetState(ctx context.Context, station *wrapperspb.StringValue) (*wrapperspb.UInt32Value, error)
	// ListHistory returns the newest transitions of a station.
	ListHistory(ctx context.Context, station *wrapperspb.StringValue) (*structpb.ListValue, error)
	// PurgeHistory deletes every transition of a station.
	PurgeHistory(ctx context.Context, station *wrapperspb.StringValue) (*wrapperspb.Int64Value, error)
	// Watch streams notifications, snapshot first; an empty station watches every station.
	Watch(station *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterStationServiceServer registers srv on registrar.
func RegisterStationServiceServer(registrar grpc.ServiceRegistrar, srv StationServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the StationService for grpc.Server.
//
//nolint:gochecknoglobals // grpc keeps a pointer to the descriptor.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetState",
			Handler: unaryHandler(FullMethodGetState,
				func(srv StationServiceServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
					return srv.GetState(ctx, in)
				}),
		},
		{
			MethodName: "ListHistory",
			Handler: unaryHandler(FullMethodListHistory,
				func(srv StationServiceServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
					return srv.ListHistory(ctx, in)
				}),
		},
		{
			MethodName: "PurgeHistory",
			Handler: unaryHandler(FullMethodPurgeHistory,
				func(srv StationServiceServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
					return srv.PurgeHistory(ctx, in)
				}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "alarmmonitor/v1/station.proto",
}

type unaryMethod func(srv StationServiceServer, ctx context.Context, in *wrapperspb.StringValue) (any, error)

// unaryHandler adapts a typed call to grpc.MethodHandler, honouring interceptors.
func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}

		server, _ := srv.(StationServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}

		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			station, _ := req.(*wrapperspb.StringValue)

			return call(server, ctx, station)
		})
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	server, _ := srv.(StationServiceServer)

	return server.Watch(in, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}

// StationServiceClient is the client stub of the StationService.
type StationServiceClient struct {
	// cc is the underlying connection.
	cc grpc.ClientConnInterface
}

// NewStationServiceClient creates a client stub on cc.
func NewStationServiceClient(cc grpc.ClientConnInterface) *StationServiceClient {
	return &StationServiceClient{cc: cc}
}

// GetState calls StationService.GetState.
func (c *StationServiceClient) GetState(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*wrapperspb.UInt32Value, error) {
	out := new(wrapperspb.UInt32Value)
	if err := c.cc.Invoke(ctx, FullMethodGetState, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// ListHistory calls StationService.ListHistory.
func (c *StationServiceClient) ListHistory(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, FullMethodListHistory, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// PurgeHistory calls StationService.PurgeHistory.
func (c *StationServiceClient) PurgeHistory(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, FullMethodPurgeHistory, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

// Watch opens the StationService.Watch stream.
func (c *StationServiceClient) Watch(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethodWatch, opts...)
	if err != nil {
		return nil, err
	}

	client := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: stream}

	if err = client.SendMsg(in); err != nil {
		return nil, err
	}

	if err = client.CloseSend(); err != nil {
		return nil, err
	}

	return client, nil
}
