package event

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"stockbroker/domain/order"
)

const schemaVersion = 1

// Marshal encodes e as a protobuf Struct. 64-bit values that may exceed
// float64 precision (sequence, digest) travel as decimal strings.
func Marshal(e Event) ([]byte, error) {
	s, err := ToStruct(e)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func Unmarshal(b []byte) (Event, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Event{}, errors.Wrap(err, "event: decode payload")
	}
	return FromStruct(&s)
}

// ToStruct is the structured form shared by the outbox payload and the
// gRPC surface.
func ToStruct(e Event) (*structpb.Struct, error) {
	fields := map[string]any{
		"v":    schemaVersion,
		"seq":  formatUint(e.Seq),
		"type": e.Type.String(),
		"at":   e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}
	if e.Order.ID != 0 {
		fields["order"] = ViewFields(e.Order)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, "event: build struct")
	}
	return s, nil
}

func FromStruct(s *structpb.Struct) (Event, error) {
	f := s.GetFields()
	if v := f["v"].GetNumberValue(); v != schemaVersion {
		return Event{}, errors.Newf("event: unsupported schema version %v", v)
	}

	seq, err := strconv.ParseUint(f["seq"].GetStringValue(), 10, 64)
	if err != nil {
		return Event{}, errors.Wrap(err, "event: seq")
	}
	at, err := time.Parse(time.RFC3339Nano, f["at"].GetStringValue())
	if err != nil {
		return Event{}, errors.Wrap(err, "event: at")
	}

	e := Event{
		Seq:    seq,
		Type:   parseType(f["type"].GetStringValue()),
		Reason: f["reason"].GetStringValue(),
		At:     at,
	}
	if o := f["order"].GetStructValue(); o != nil {
		if e.Order, err = ViewFromFields(o); err != nil {
			return Event{}, err
		}
	}
	return e, nil
}

// ViewFields flattens an order view into Struct-compatible values.
func ViewFields(v order.View) map[string]any {
	return map[string]any{
		"id":              formatUint(uint64(v.ID)),
		"client_order_id": v.ClientOrderID,
		"stock_id":        v.Stock.ID,
		"price":           v.Stock.Price,
		"name":            v.Stock.Name,
		"kind":            v.Kind.String(),
		"venue":           v.Venue.String(),
		"side":            v.Side.String(),
		"created_at":      v.CreatedAt.UTC().Format(time.RFC3339Nano),
		"digest":          formatUint(uint64(v.Digest)),
	}
}

// ViewFromFields reverses ViewFields.
func ViewFromFields(s *structpb.Struct) (order.View, error) {
	f := s.GetFields()

	id, err := strconv.ParseUint(f["id"].GetStringValue(), 10, 64)
	if err != nil {
		return order.View{}, errors.Wrap(err, "event: order id")
	}
	digest, err := strconv.ParseUint(f["digest"].GetStringValue(), 10, 64)
	if err != nil {
		return order.View{}, errors.Wrap(err, "event: digest")
	}
	created, err := time.Parse(time.RFC3339Nano, f["created_at"].GetStringValue())
	if err != nil {
		return order.View{}, errors.Wrap(err, "event: created_at")
	}
	kind, err := order.ParseKind(f["kind"].GetStringValue())
	if err != nil {
		return order.View{}, err
	}
	venue, err := order.ParseVenue(f["venue"].GetStringValue())
	if err != nil {
		return order.View{}, err
	}
	side, err := order.ParseSide(f["side"].GetStringValue())
	if err != nil {
		return order.View{}, err
	}

	return order.View{
		ID:            order.ID(id),
		ClientOrderID: f["client_order_id"].GetStringValue(),
		Stock: order.StockRef{
			ID:    int64(f["stock_id"].GetNumberValue()),
			Price: int64(f["price"].GetNumberValue()),
			Name:  f["name"].GetStringValue(),
		},
		Kind:      kind,
		Venue:     venue,
		Side:      side,
		CreatedAt: created,
		Digest:    order.Digest(digest),
	}, nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
