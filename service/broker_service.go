package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockbroker/domain/event"
	"stockbroker/domain/factory"
	"stockbroker/domain/order"
	"stockbroker/domain/registry"
	"stockbroker/infra/memory"
	"stockbroker/infra/metrics"
	"stockbroker/infra/sequence"
)

/*
BrokerService is the ONLY entry point for order entry.

It composes:
- the factory registry (which strategy builds which kind)
- the order registry (sole owner of live orders)
- the id sequencer, entity pool, journal and metrics

Callers only ever receive order.View copies; the *order.Order itself
never leaves the service once it is registered.
*/

// Journal records lifecycle events. The pebble outbox implements it.
type Journal interface {
	Record(ctx context.Context, ev event.Event) error
}

type BrokerService struct {
	factories *factory.Registry
	orders    *registry.Registry
	pool      *memory.Pool[order.Order]
	ids       *sequence.Sequencer[order.ID]
	eventSeq  *sequence.Sequencer[uint64]
	journal   Journal
	clientIDs *gocache.Cache
	metrics   *metrics.Broker
	log       *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*BrokerService)

func WithLogger(l *slog.Logger) Option {
	return func(s *BrokerService) { s.log = l }
}

func WithMetrics(m *metrics.Broker) Option {
	return func(s *BrokerService) { s.metrics = m }
}

// WithJournal records every lifecycle event to j, numbering events
// after lastSeq.
func WithJournal(j Journal, lastSeq uint64) Option {
	return func(s *BrokerService) {
		s.journal = j
		s.eventSeq = sequence.New(lastSeq)
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *BrokerService) { s.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *BrokerService) { s.now = now }
}

// WithIdempotencyWindow rejects a client order id seen within window.
// A zero window disables the check.
func WithIdempotencyWindow(window time.Duration) Option {
	return func(s *BrokerService) {
		if window <= 0 {
			s.clientIDs = nil
			return
		}
		s.clientIDs = gocache.New(window, 2*window)
	}
}

// NewBrokerService wires all dependencies.
// No factories are registered; see RegisterDefaultFactories.
func NewBrokerService(opts ...Option) *BrokerService {
	s := &BrokerService{
		factories: factory.NewRegistry(),
		pool:      memory.NewPool(func() *order.Order { return &order.Order{} }, (*order.Order).Reset),
		ids:       sequence.New[order.ID](0),
		eventSeq:  sequence.New[uint64](0),
		clientIDs: gocache.New(10*time.Minute, 20*time.Minute),
		log:       slog.Default(),
		tracer:    otel.Tracer("stockbroker/service"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "broker")
	s.orders = registry.New(registry.WithRelease(s.release), registry.WithAdded(s.added))
	return s
}

//
// ──────────────────────────────────────────────────────────
// Setup
// ──────────────────────────────────────────────────────────
//

// RegisterFactory installs the construction strategy for kind. It is
// meant to run before the first PlaceOrder; the last call for a kind wins.
func (s *BrokerService) RegisterFactory(kind order.Kind, strategy factory.Strategy) error {
	if err := s.factories.Register(kind, strategy); err != nil {
		return err
	}
	s.log.Debug("factory registered", "kind", kind)
	return nil
}

// RegisterDefaultFactories installs the market and limit strategies,
// both allocating from the service's entity pool.
func RegisterDefaultFactories(s *BrokerService) error {
	if err := s.RegisterFactory(order.Market, factory.Market(s.Allocator())); err != nil {
		return err
	}
	return s.RegisterFactory(order.Limit, factory.Limit(s.Allocator()))
}

// Allocator hands out blank orders from the entity pool. Orders obtained
// here go back to the pool when the registry releases them; orders a
// strategy allocated on its own are left to the garbage collector.
func (s *BrokerService) Allocator() factory.Allocator {
	return s.pool
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// PlaceOrder builds an order for req and registers it. Any failure
// leaves the registry untouched.
func (s *BrokerService) PlaceOrder(ctx context.Context, req order.Request) (view order.View, err error) {
	ctx, span := s.tracer.Start(ctx, "BrokerService.PlaceOrder", trace.WithAttributes(
		attribute.String("order.kind", req.Kind.String()),
		attribute.String("order.venue", req.Venue.String()),
		attribute.String("stock.name", req.Stock.Name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int64("order.id", int64(view.ID)))
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return order.View{}, err
	}

	if err := req.Validate(); err != nil {
		return order.View{}, s.reject(ctx, "validation", err)
	}

	strategy, err := s.factories.Lookup(req.Kind)
	if err != nil {
		return order.View{}, s.reject(ctx, "unknown_kind", err)
	}

	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	if err := s.reserveClientID(req.ClientOrderID); err != nil {
		return order.View{}, s.reject(ctx, "duplicate_client_id", err)
	}

	id := s.ids.Next()
	o, err := strategy.Create(id, req, s.now())
	if err == nil && o == nil {
		err = errors.Newf("%s strategy returned no order", req.Kind)
	}
	if err != nil {
		s.forgetClientID(req.ClientOrderID)
		return order.View{}, s.reject(ctx, "construction", errors.Wrapf(err, "build order %d", id))
	}

	// The registry owns o from here on, so take the copy first.
	view = o.View()
	replaced, err := s.orders.Add(o)
	if err != nil {
		s.pool.Put(o)
		s.forgetClientID(req.ClientOrderID)
		return order.View{}, s.reject(ctx, "closed", err)
	}

	s.metrics.OrderPlaced(view.Kind.String())
	s.metrics.SetLive(s.orders.Len())
	s.log.Info("order placed",
		"order_id", view.ID,
		"client_order_id", view.ClientOrderID,
		"stock", view.Stock.Name,
		"kind", view.Kind,
		"venue", view.Venue,
		"side", view.Side,
		"replaced", replaced,
	)

	return view, nil
}

// CancelOrder removes the order with id. It reports false when no such
// order is live; that is an expected outcome, not an error.
func (s *BrokerService) CancelOrder(ctx context.Context, id order.ID) bool {
	_, span := s.tracer.Start(ctx, "BrokerService.CancelOrder",
		trace.WithAttributes(attribute.Int64("order.id", int64(id))))
	defer span.End()

	if !s.orders.Cancel(id) {
		span.SetAttributes(attribute.Bool("order.found", false))
		s.log.Info("cancel: order not found", "order_id", id)
		return false
	}
	s.metrics.OrderCancelled()
	s.metrics.SetLive(s.orders.Len())
	s.log.Info("order cancelled", "order_id", id)
	return true
}

// Close tears the registry down, releasing every live order, and
// returns how many were destroyed. PlaceOrder fails afterwards.
func (s *BrokerService) Close() int {
	n := s.orders.Close()
	s.metrics.OrdersDestroyed(n)
	s.metrics.SetLive(0)
	s.log.Info("registry closed", "destroyed", n)
	return n
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// Dashboard returns every live order, oldest first. Formatting is the
// caller's business.
func (s *BrokerService) Dashboard(ctx context.Context) []order.View {
	return s.orders.List()
}

// Order returns the live order with id.
func (s *BrokerService) Order(ctx context.Context, id order.ID) (order.View, bool) {
	return s.orders.Get(id)
}

// Kinds lists the order kinds that can currently be placed.
func (s *BrokerService) Kinds() []order.Kind {
	return s.factories.Kinds()
}

// Outstanding reports pool allocations not yet released.
func (s *BrokerService) Outstanding() int64 {
	return s.pool.Outstanding()
}

//
// ──────────────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────────────
//

// added is the registry's admission hook. Recording Placed under the
// registry lock keeps it ahead of any event for the same order.
func (s *BrokerService) added(o *order.Order, _ bool) {
	view := o.View()
	s.record(context.Background(), event.Event{Type: event.Placed, Order: view, At: view.CreatedAt})
}

// release is the registry's hook. It runs under the registry lock.
func (s *BrokerService) release(o *order.Order, why registry.Reason) {
	view := o.View()
	s.pool.Put(o)

	var t event.Type
	switch why {
	case registry.Cancelled:
		t = event.Cancelled
	case registry.Replaced:
		t = event.Replaced
		s.log.Warn("order replaced by id collision", "order_id", view.ID)
	case registry.Closed:
		t = event.Destroyed
	}
	s.record(context.Background(), event.Event{Type: t, Order: view, At: s.now()})
}

func (s *BrokerService) reject(ctx context.Context, reason string, err error) error {
	s.metrics.OrderRejected(reason)
	s.log.Warn("order rejected", "reason", reason, "err", err)
	s.record(ctx, event.Event{Type: event.Rejected, Reason: err.Error(), At: s.now()})
	return err
}

// record is best-effort: a journal failure is logged and never undoes
// the registry change it describes.
func (s *BrokerService) record(ctx context.Context, ev event.Event) {
	if s.journal == nil {
		return
	}
	ev.Seq = s.eventSeq.Next()
	if err := s.journal.Record(ctx, ev); err != nil {
		s.log.Error("journal write failed", "seq", ev.Seq, "type", ev.Type, "err", err)
	}
}

func (s *BrokerService) reserveClientID(id string) error {
	if s.clientIDs == nil {
		return nil
	}
	if err := s.clientIDs.Add(id, struct{}{}, gocache.DefaultExpiration); err != nil {
		return errors.Wrapf(order.ErrDuplicateClientID, "client order id %q", id)
	}
	return nil
}

func (s *BrokerService) forgetClientID(id string) {
	if s.clientIDs != nil {
		s.clientIDs.Delete(id)
	}
}
