package bridge

import (
	"context"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The gRPC transport carries dynamic map payloads: every bridge method is one
// unary RPC taking and returning a google.protobuf.Struct, so no generated
// message types are needed.

const ServiceName = "visionbridge.Bridge"

var methodNames = []string{
	"ping",
	"createInstance",
	"loadModel",
	"predict",
	"setThresholds",
	"checkInstance",
	"listInstances",
	"disposeInstance",
	"shutdown",
}

type grpcServer struct {
	bridge *Bridge
}

func makeHandler(method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := fmt.Sprintf("/%s/%s", ServiceName, method)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			payload := req.(*structpb.Struct).AsMap()
			out, err := srv.(*grpcServer).bridge.Call(ctx, method, payload)
			if err != nil {
				return nil, err
			}
			return structpb.NewStruct(out)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		return interceptor(ctx, in, info, handler)
	}
}

func serviceDesc() *grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(methodNames))
	for _, m := range methodNames {
		methods = append(methods, grpc.MethodDesc{
			MethodName: m,
			Handler:    makeHandler(m),
		})
	}
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "visionbridge",
	}
}

func StartGRPCServer(b *Bridge, addr int) *grpc.Server {
	CloseChannel = make(chan bool)
	port := fmt.Sprintf(":%d", addr)
	lis, err := net.Listen("tcp", port)
	if err != nil {
		fmt.Printf("Failed to listen on port %s: %v\n", port, err)
	}
	s := grpc.NewServer()
	s.RegisterService(serviceDesc(), &grpcServer{bridge: b})
	go func() {
		log.Printf("server listening on port %s\n", port)
		if err := s.Serve(lis); err != nil {
			log.Fatalf("Failed to serve gRPC server: %v", err)
		}
	}()
	return s
}

// Client is the caller side of the bridge: one Call per wire method.
type Client struct {
	cc *grpc.ClientConn
}

func NewBridgeClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) Call(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fmt.Sprintf("/%s/%s", ServiceName, method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
