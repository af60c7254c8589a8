package grpcserver

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"stockbroker/api/pb"
	"stockbroker/domain/event"
	"stockbroker/domain/order"
	"stockbroker/domain/registry"
)

// Broker is the slice of service.BrokerService the adapter calls.
type Broker interface {
	PlaceOrder(ctx context.Context, req order.Request) (order.View, error)
	CancelOrder(ctx context.Context, id order.ID) bool
	Dashboard(ctx context.Context) []order.View
}

type Server struct {
	svc Broker
	log *slog.Logger
}

var _ pb.BrokerServer = (*Server)(nil)

func NewServer(svc Broker, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{svc: svc, log: log.With("component", "grpc")}
}

func (s *Server) PlaceOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := toRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}

	v, err := s.svc.PlaceOrder(ctx, r)
	if err != nil {
		return nil, toStatus(err)
	}
	s.log.Debug("placed", "order_id", v.ID, "kind", v.Kind, "price", v.Stock.Price)

	return structpb.NewStruct(event.ViewFields(v))
}

func (s *Server) CancelOrder(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := orderID(req.GetFields()["order_id"])
	if err != nil {
		return nil, toStatus(err)
	}

	ok := s.svc.CancelOrder(ctx, id)
	s.log.Debug("cancel", "order_id", id, "cancelled", ok)

	return structpb.NewStruct(map[string]any{"cancelled": ok})
}

func (s *Server) Dashboard(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	views := s.svc.Dashboard(ctx)

	orders := make([]any, 0, len(views))
	for _, v := range views {
		orders = append(orders, event.ViewFields(v))
	}
	return structpb.NewStruct(map[string]any{"orders": orders})
}

// --- converters ---

func toRequest(s *structpb.Struct) (order.Request, error) {
	f := s.GetFields()

	kind, err := order.ParseKind(f["kind"].GetStringValue())
	if err != nil {
		return order.Request{}, err
	}
	venue, err := order.ParseVenue(f["venue"].GetStringValue())
	if err != nil {
		return order.Request{}, err
	}
	side, err := order.ParseSide(f["side"].GetStringValue())
	if err != nil {
		return order.Request{}, err
	}
	stockID, err := integer(f["stock_id"], "stock_id")
	if err != nil {
		return order.Request{}, err
	}
	price, err := integer(f["price"], "price")
	if err != nil {
		return order.Request{}, err
	}

	return order.Request{
		Stock: order.StockRef{
			ID:    stockID,
			Price: price,
			Name:  f["name"].GetStringValue(),
		},
		Kind:          kind,
		Venue:         venue,
		Side:          side,
		ClientOrderID: f["client_order_id"].GetStringValue(),
	}, nil
}

// integer accepts a whole number or its decimal string form.
func integer(v *structpb.Value, field string) (int64, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := k.NumberValue
		if n != float64(int64(n)) {
			return 0, &order.ValidationError{Field: field, Reason: "must be a whole number"}
		}
		return int64(n), nil
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(k.StringValue, 10, 64)
		if err != nil {
			return 0, &order.ValidationError{Field: field, Reason: "must be an integer"}
		}
		return n, nil
	default:
		return 0, &order.ValidationError{Field: field, Reason: "is required"}
	}
}

func orderID(v *structpb.Value) (order.ID, error) {
	n, err := integer(v, "order_id")
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, &order.ValidationError{Field: "order_id", Reason: "must be positive"}
	}
	return order.ID(n), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, order.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, order.ErrUnknownKind):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, order.ErrDuplicateClientID):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, registry.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
