package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatline.v1.ChatService"

// ChatServiceServer is the control API served by the daemon. Requests and
// responses are protobuf well-known types; field names are documented on
// each method of Service.
type ChatServiceServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartSync(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StopSync(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	GetMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeletePending(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchHistory(*structpb.Struct, EventStream) error
	WatchReply(*structpb.Struct, EventStream) error
	WatchStatus(*emptypb.Empty, EventStream) error
}

// EventStream is the server side of a streaming method.
type EventStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// RegisterChatServiceServer registers srv on s.
func RegisterChatServiceServer(s grpc.ServiceRegistrar, srv ChatServiceServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}

// ChatServiceDesc describes the control API for grpc.Server.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", emptyRequest, ChatServiceServer.GetStatus),
		unary("StartSync", emptyRequest, ChatServiceServer.StartSync),
		unary("StopSync", emptyRequest, ChatServiceServer.StopSync),
		unary("Send", structRequest, ChatServiceServer.Send),
		unary("ListMessages", structRequest, ChatServiceServer.ListMessages),
		unary("SearchMessages", structRequest, ChatServiceServer.SearchMessages),
		unary("GetMessage", structRequest, ChatServiceServer.GetMessage),
		unary("Resend", structRequest, ChatServiceServer.Resend),
		unary("DeletePending", emptyRequest, ChatServiceServer.DeletePending),
		unary("SetProfile", structRequest, ChatServiceServer.SetProfile),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchHistory", structRequest, ChatServiceServer.WatchHistory),
		serverStream("WatchReply", structRequest, ChatServiceServer.WatchReply),
		serverStream("WatchStatus", emptyRequest, ChatServiceServer.WatchStatus),
	},
	Metadata: "chatline/v1/chat.proto",
}

func emptyRequest() *emptypb.Empty { return new(emptypb.Empty) }
func structRequest() *structpb.Struct { return new(structpb.Struct) }

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp proto.Message](name string, newReq func() Req, call func(ChatServiceServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ChatServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ChatServiceServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func serverStream[Req proto.Message](name string, newReq func() Req, call func(ChatServiceServer, Req, EventStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv interface{}, stream grpc.ServerStream) error {
			in := newReq()
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(ChatServiceServer), in, &eventStream{stream})
		},
	}
}
