package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service has no generated stubs. Its messages are well-known types,
// so the descriptor below is all a client or server needs:
//
//	service AccessControl {
//	  rpc PresentTag(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc ManualOpen(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc Watch(google.protobuf.Empty) returns (stream google.protobuf.Struct);
//	}
const ServiceName = "portunus.v1.AccessControl"

const (
	methodPresentTag = "/" + ServiceName + "/PresentTag"
	methodManualOpen = "/" + ServiceName + "/ManualOpen"
	methodWatch      = "/" + ServiceName + "/Watch"
)

type AccessControlServer interface {
	PresentTag(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ManualOpen(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*emptypb.Empty, grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccessControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PresentTag", Handler: presentTagHandler},
		{MethodName: "ManualOpen", Handler: manualOpenHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "portunus/v1/access_control.proto",
}

func presentTagHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessControlServer).PresentTag(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPresentTag}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessControlServer).PresentTag(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func manualOpenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessControlServer).ManualOpen(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodManualOpen}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessControlServer).ManualOpen(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AccessControlServer).Watch(in, stream)
}

// Client is a thin caller for AccessControl over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) PresentTag(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodPresentTag, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ManualOpen(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodManualOpen, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Watch opens the notification stream. Call Recv on the result until
// it returns an error.
func (c *Client) Watch(ctx context.Context, opts ...grpc.CallOption) (*WatchStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], methodWatch, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}

type WatchStream struct {
	stream grpc.ClientStream
}

func (w *WatchStream) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := w.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
