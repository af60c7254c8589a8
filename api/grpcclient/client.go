// Package grpcclient is a typed client for the Broker gRPC service.
package grpcclient

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"stockbroker/api/pb"
	"stockbroker/domain/event"
	"stockbroker/domain/order"
)

type Client struct {
	conn *grpc.ClientConn
	rpc  pb.BrokerClient
}

// Dial connects to addr without transport security.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &Client{conn: conn, rpc: pb.NewBrokerClient(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) PlaceOrder(ctx context.Context, req order.Request) (order.View, error) {
	in, err := structpb.NewStruct(map[string]any{
		"stock_id":        req.Stock.ID,
		"price":           req.Stock.Price,
		"name":            req.Stock.Name,
		"kind":            req.Kind.String(),
		"venue":           req.Venue.String(),
		"side":            req.Side.String(),
		"client_order_id": req.ClientOrderID,
	})
	if err != nil {
		return order.View{}, errors.Wrap(err, "build request")
	}

	out, err := c.rpc.PlaceOrder(ctx, in)
	if err != nil {
		return order.View{}, err
	}
	return event.ViewFromFields(out)
}

// CancelOrder reports whether a live order was removed.
func (c *Client) CancelOrder(ctx context.Context, id order.ID) (bool, error) {
	in, err := structpb.NewStruct(map[string]any{
		"order_id": strconv.FormatUint(uint64(id), 10),
	})
	if err != nil {
		return false, errors.Wrap(err, "build request")
	}

	out, err := c.rpc.CancelOrder(ctx, in)
	if err != nil {
		return false, err
	}
	return out.GetFields()["cancelled"].GetBoolValue(), nil
}

func (c *Client) Dashboard(ctx context.Context) ([]order.View, error) {
	out, err := c.rpc.Dashboard(ctx, &structpb.Struct{})
	if err != nil {
		return nil, err
	}

	list := out.GetFields()["orders"].GetListValue().GetValues()
	views := make([]order.View, 0, len(list))
	for _, v := range list {
		view, err := event.ViewFromFields(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}
