// Package v1 describes the jobsearch.v1.TaskService gRPC API.
//
// Messages on the wire are protobuf well-known types: task IDs travel as
// StringValue and structured payloads as Struct. The typed request and
// response values in this package (StartRequest, TaskStatus, LogLine) are
// converted to and from Struct with the Encode and Decode helpers, so that
// clients and servers never handle Struct directly.
package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "jobsearch.v1.TaskService"

const (
	TaskService_StartTask_FullMethodName  = "/jobsearch.v1.TaskService/StartTask"
	TaskService_QueryTask_FullMethodName  = "/jobsearch.v1.TaskService/QueryTask"
	TaskService_RemoveTask_FullMethodName = "/jobsearch.v1.TaskService/RemoveTask"
	TaskService_WatchTask_FullMethodName  = "/jobsearch.v1.TaskService/WatchTask"
)

// TaskServiceClient is the low-level client API for TaskService. Most callers
// want Client instead.
type TaskServiceClient interface {
	StartTask(
		ctx context.Context,
		in *structpb.Struct,
		opts ...grpc.CallOption,
	) (*wrapperspb.StringValue, error)

	QueryTask(
		ctx context.Context,
		in *wrapperspb.StringValue,
		opts ...grpc.CallOption,
	) (*structpb.Struct, error)

	RemoveTask(
		ctx context.Context,
		in *wrapperspb.StringValue,
		opts ...grpc.CallOption,
	) (*emptypb.Empty, error)

	WatchTask(
		ctx context.Context,
		in *wrapperspb.StringValue,
		opts ...grpc.CallOption,
	) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type taskServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTaskServiceClient(cc grpc.ClientConnInterface) TaskServiceClient {
	return &taskServiceClient{cc}
}

func (c *taskServiceClient) StartTask(
	ctx context.Context,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, TaskService_StartTask_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *taskServiceClient) QueryTask(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, TaskService_QueryTask_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *taskServiceClient) RemoveTask(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, TaskService_RemoveTask_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *taskServiceClient) WatchTask(
	ctx context.Context,
	in *wrapperspb.StringValue,
	opts ...grpc.CallOption,
) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(
		ctx,
		&TaskService_ServiceDesc.Streams[0],
		TaskService_WatchTask_FullMethodName,
		opts...,
	)
	if err != nil {
		return nil, err
	}

	x := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{
		ClientStream: stream,
	}

	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}

	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}

	return x, nil
}

// TaskServiceServer is the server API for TaskService. Implementations must
// embed UnimplementedTaskServiceServer.
type TaskServiceServer interface {
	StartTask(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	QueryTask(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	RemoveTask(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	WatchTask(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
	mustEmbedUnimplementedTaskServiceServer()
}

// UnimplementedTaskServiceServer answers every method with codes.Unimplemented.
type UnimplementedTaskServiceServer struct{}

func (UnimplementedTaskServiceServer) StartTask(
	context.Context,
	*structpb.Struct,
) (*wrapperspb.StringValue, error) {
	return nil, unimplemented("StartTask")
}

func (UnimplementedTaskServiceServer) QueryTask(
	context.Context,
	*wrapperspb.StringValue,
) (*structpb.Struct, error) {
	return nil, unimplemented("QueryTask")
}

func (UnimplementedTaskServiceServer) RemoveTask(
	context.Context,
	*wrapperspb.StringValue,
) (*emptypb.Empty, error) {
	return nil, unimplemented("RemoveTask")
}

func (UnimplementedTaskServiceServer) WatchTask(
	*wrapperspb.StringValue,
	grpc.ServerStreamingServer[structpb.Struct],
) error {
	return unimplemented("WatchTask")
}

func (UnimplementedTaskServiceServer) mustEmbedUnimplementedTaskServiceServer() {}

func RegisterTaskServiceServer(s grpc.ServiceRegistrar, srv TaskServiceServer) {
	s.RegisterService(&TaskService_ServiceDesc, srv)
}

func startTaskHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(TaskServiceServer).StartTask(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: TaskService_StartTask_FullMethodName,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskServiceServer).StartTask(ctx, req.(*structpb.Struct))
	}

	return interceptor(ctx, in, info, handler)
}

func queryTaskHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(TaskServiceServer).QueryTask(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: TaskService_QueryTask_FullMethodName,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskServiceServer).QueryTask(ctx, req.(*wrapperspb.StringValue))
	}

	return interceptor(ctx, in, info, handler)
}

func removeTaskHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(TaskServiceServer).RemoveTask(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: TaskService_RemoveTask_FullMethodName,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskServiceServer).RemoveTask(ctx, req.(*wrapperspb.StringValue))
	}

	return interceptor(ctx, in, info, handler)
}

func watchTaskHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(TaskServiceServer).WatchTask(
		in,
		&grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{
			ServerStream: stream,
		},
	)
}

// TaskService_ServiceDesc is the grpc.ServiceDesc for TaskService.
var TaskService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartTask", Handler: startTaskHandler},
		{MethodName: "QueryTask", Handler: queryTaskHandler},
		{MethodName: "RemoveTask", Handler: removeTaskHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchTask",
			Handler:       watchTaskHandler,
			ServerStreams: true,
		},
	},
}
