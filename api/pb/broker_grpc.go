// Package pb holds the Broker service descriptor, written by hand from
// broker.proto. Every message is a google.protobuf.Struct.
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "stockbroker.v1.Broker"

	MethodPlaceOrder  = "/" + ServiceName + "/PlaceOrder"
	MethodCancelOrder = "/" + ServiceName + "/CancelOrder"
	MethodDashboard   = "/" + ServiceName + "/Dashboard"
)

// BrokerServer is implemented by the gRPC adapter.
type BrokerServer interface {
	PlaceOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Dashboard(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&Broker_ServiceDesc, srv)
}

// Broker_ServiceDesc is the grpc.ServiceDesc for the Broker service.
var Broker_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: unary(MethodPlaceOrder, BrokerServer.PlaceOrder)},
		{MethodName: "CancelOrder", Handler: unary(MethodCancelOrder, BrokerServer.CancelOrder)},
		{MethodName: "Dashboard", Handler: unary(MethodDashboard, BrokerServer.Dashboard)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/pb/broker.proto",
}

type method func(BrokerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(fullMethod string, call method) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BrokerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BrokerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// BrokerClient is the client side of the Broker service.
type BrokerClient interface {
	PlaceOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	CancelOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Dashboard(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type brokerClient struct {
	cc grpc.ClientConnInterface
}

func NewBrokerClient(cc grpc.ClientConnInterface) BrokerClient {
	return &brokerClient{cc: cc}
}

func (c *brokerClient) PlaceOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodPlaceOrder, in, opts)
}

func (c *brokerClient) CancelOrder(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodCancelOrder, in, opts)
}

func (c *brokerClient) Dashboard(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDashboard, in, opts)
}

func (c *brokerClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
