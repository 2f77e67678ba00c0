// ABOUTME: gRPC service description for TimeIndexService
// ABOUTME: Messages are protobuf well-known types, so no generated code is needed

package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "timeindex.v1.TimeIndexService"

// TimeIndexServer is the server API of TimeIndexService. Requests that name
// a view carry its handle; Info, Close and Cat take the bare handle.
type TimeIndexServer interface {
	Open(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Append(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Locate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Select(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Info(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Close(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Cat(*wrapperspb.StringValue, grpc.ServerStream) error
}

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// unary adapts a typed method to the grpc handler signature
func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](name string, call func(TimeIndexServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(TimeIndexServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(PReq))
			})
		},
	}
}

func catHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TimeIndexServer).Cat(in, stream)
}

// ServiceDesc describes TimeIndexService for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TimeIndexServer)(nil),
	Methods: []grpc.MethodDesc{
		unary[structpb.Struct]("Open", TimeIndexServer.Open),
		unary[structpb.Struct]("Create", TimeIndexServer.Create),
		unary[structpb.Struct]("Append", TimeIndexServer.Append),
		unary[structpb.Struct]("Get", TimeIndexServer.Get),
		unary[structpb.Struct]("Locate", TimeIndexServer.Locate),
		unary[structpb.Struct]("Select", TimeIndexServer.Select),
		unary[wrapperspb.StringValue]("Info", TimeIndexServer.Info),
		unary[wrapperspb.StringValue]("Close", TimeIndexServer.Close),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Cat",
			Handler:       catHandler,
			ServerStreams: true,
		},
	},
	Metadata: "timeindex/v1/timeindex.proto",
}

// Register attaches srv to s
func Register(s *grpc.Server, srv TimeIndexServer) {
	s.RegisterService(&ServiceDesc, srv)
}
