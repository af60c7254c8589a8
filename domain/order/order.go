package order

import (
	"strings"
	"time"
)

// ID identifies a live order. IDs are issued by the broker's sequencer
// and are never derived from order attributes.
type ID uint64

// StockRef is the instrument an order refers to.
// Price is in integer currency units.
type StockRef struct {
	ID    int64
	Price int64
	Name  string
}

// Request is the submitted order metadata. It is consumed once by
// construction and not retained.
type Request struct {
	Stock         StockRef
	Kind          Kind
	Venue         Venue
	Side          Side
	ClientOrderID string
}

// Validate rejects empty names, negative prices and out-of-range venue
// or side tags. The kind is not checked here: whether a kind can be
// built is decided by the factory registry.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Stock.Name) == "" {
		return invalid("stock.name", "must not be empty")
	}
	if r.Stock.Price < 0 {
		return invalid("stock.price", "must not be negative, got %d", r.Stock.Price)
	}
	if !r.Venue.Valid() {
		return invalid("venue", "unknown ordinal %d", int(r.Venue))
	}
	if !r.Side.Valid() {
		return invalid("side", "unknown ordinal %d", int(r.Side))
	}
	return nil
}

// Order is a pure domain entity. Every field is set once by Build and
// only read afterwards; the registry that owns it hands out Views.
type Order struct {
	id            ID
	clientOrderID string
	stock         StockRef
	kind          Kind
	venue         Venue
	side          Side
	createdAt     time.Time
	digest        Digest
}

// New allocates and builds an order.
func New(id ID, req Request, at time.Time) (*Order, error) {
	o := &Order{}
	if err := Build(o, id, req, at); err != nil {
		return nil, err
	}
	return o, nil
}

// Build fills dst from req. It is the single construction path, so the
// digest is computed here and nowhere else. dst is left untouched when
// req fails validation.
func Build(dst *Order, id ID, req Request, at time.Time) error {
	if err := req.Validate(); err != nil {
		return err
	}
	*dst = Order{
		id:            id,
		clientOrderID: req.ClientOrderID,
		stock:         req.Stock,
		kind:          req.Kind,
		venue:         req.Venue,
		side:          req.Side,
		createdAt:     at,
		digest:        ComputeDigest(req.Stock, req.Kind),
	}
	return nil
}

// Reset zeroes the order so a pool can hand it out again.
func (o *Order) Reset() {
	*o = Order{}
}

func (o *Order) ID() ID                { return o.id }
func (o *Order) ClientOrderID() string { return o.clientOrderID }
func (o *Order) Stock() StockRef       { return o.stock }
func (o *Order) Kind() Kind            { return o.kind }
func (o *Order) Venue() Venue          { return o.venue }
func (o *Order) Side() Side            { return o.side }
func (o *Order) CreatedAt() time.Time  { return o.createdAt }
func (o *Order) Digest() Digest        { return o.digest }

// Verify recomputes the digest from the stored attributes and reports
// whether it still matches the one stamped at construction.
func (o *Order) Verify() bool {
	return ComputeDigest(o.stock, o.kind) == o.digest
}

// View is a read-only copy of an order.
type View struct {
	ID            ID
	ClientOrderID string
	Stock         StockRef
	Kind          Kind
	Venue         Venue
	Side          Side
	CreatedAt     time.Time
	Digest        Digest
}

func (o *Order) View() View {
	return View{
		ID:            o.id,
		ClientOrderID: o.clientOrderID,
		Stock:         o.stock,
		Kind:          o.kind,
		Venue:         o.venue,
		Side:          o.side,
		CreatedAt:     o.createdAt,
		Digest:        o.digest,
	}
}
