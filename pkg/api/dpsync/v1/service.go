// Package dpsyncv1 is the control API of dpsyncd. Messages travel as
// google.protobuf.Struct values carrying the JSON form of the Go types in
// this package, so the API needs no generated code.
package dpsyncv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dpsync.v1.SyncService"

// Full method names.
const (
	SyncService_Status_FullMethodName           = "/" + ServiceName + "/Status"
	SyncService_Start_FullMethodName            = "/" + ServiceName + "/Start"
	SyncService_Stop_FullMethodName             = "/" + ServiceName + "/Stop"
	SyncService_Trigger_FullMethodName          = "/" + ServiceName + "/Trigger"
	SyncService_SetTargetEnabled_FullMethodName = "/" + ServiceName + "/SetTargetEnabled"
	SyncService_History_FullMethodName          = "/" + ServiceName + "/History"
	SyncService_Manifest_FullMethodName         = "/" + ServiceName + "/Manifest"
	SyncService_Plan_FullMethodName             = "/" + ServiceName + "/Plan"
	SyncService_Shutdown_FullMethodName         = "/" + ServiceName + "/Shutdown"
	SyncService_Watch_FullMethodName            = "/" + ServiceName + "/Watch"
)

// SyncServiceServer is the server API for SyncService.
type SyncServiceServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Start(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Trigger(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTargetEnabled(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Manifest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Plan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Shutdown(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterSyncServiceServer registers srv on s.
func RegisterSyncServiceServer(s grpc.ServiceRegistrar, srv SyncServiceServer) {
	s.RegisterService(&SyncService_ServiceDesc, srv)
}

type unaryCall func(SyncServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SyncServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SyncServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SyncServiceServer).Watch(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// SyncService_ServiceDesc is the grpc.ServiceDesc for SyncService.
var SyncService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", SyncServiceServer.Status),
		unary("Start", SyncServiceServer.Start),
		unary("Stop", SyncServiceServer.Stop),
		unary("Trigger", SyncServiceServer.Trigger),
		unary("SetTargetEnabled", SyncServiceServer.SetTargetEnabled),
		unary("History", SyncServiceServer.History),
		unary("Manifest", SyncServiceServer.Manifest),
		unary("Plan", SyncServiceServer.Plan),
		unary("Shutdown", SyncServiceServer.Shutdown),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "dpsync/v1/service.proto",
}

// SyncServiceClient is the client API for SyncService.
type SyncServiceClient interface {
	Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Start(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Stop(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Trigger(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetTargetEnabled(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	History(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Manifest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Plan(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Shutdown(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type syncServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSyncServiceClient returns a client for SyncService over cc.
func NewSyncServiceClient(cc grpc.ClientConnInterface) SyncServiceClient {
	return &syncServiceClient{cc}
}

func (c *syncServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *syncServiceClient) Status(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SyncService_Status_FullMethodName, in, opts)
}

func (c *syncServiceClient) Start(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SyncService_Start_FullMethodName, in, opts)
}

func (c *syncServiceClient) Stop(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SyncService_Stop_FullMethodName, in, opts)
}

func (c *syncServiceClient) Trigger(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SyncService_Trigger_FullMethodName, in, opts)
}

func (c *syncServiceClient) SetTargetEnabled(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SyncService_SetTargetEnabled_FullMethodName, in, opts)
}

func (c *syncServiceClient) History(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SyncService_History_FullMethodName, in, opts)
}

func (c *syncServiceClient) Manifest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SyncService_Manifest_FullMethodName, in, opts)
}

func (c *syncServiceClient) Plan(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SyncService_Plan_FullMethodName, in, opts)
}

func (c *syncServiceClient) Shutdown(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, SyncService_Shutdown_FullMethodName, in, opts)
}

func (c *syncServiceClient) Watch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &SyncService_ServiceDesc.Streams[0], SyncService_Watch_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
