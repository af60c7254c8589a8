package factory

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockbroker/domain/order"
)

func request(kind order.Kind) order.Request {
	return order.Request{
		Stock: order.StockRef{ID: 102, Price: 1850, Name: "Reliance"},
		Kind:  kind,
		Venue: order.BSE,
		Side:  order.Sell,
	}
}

func TestRegistry_CreateDispatchesByKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(order.Market, Market(nil)))
	require.NoError(t, r.Register(order.Limit, Limit(nil)))

	m, err := r.Create(1, request(order.Market))
	require.NoError(t, err)
	assert.Equal(t, order.Market, m.Kind())
	assert.False(t, m.CreatedAt().IsZero())

	l, err := r.Create(2, request(order.Limit))
	require.NoError(t, err)
	assert.Equal(t, order.Limit, l.Kind())
	assert.Equal(t, order.ID(2), l.ID())
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(order.Market, Market(nil)))

	o, err := r.Create(1, request(order.Limit))
	assert.Nil(t, o)
	require.Error(t, err)
	assert.True(t, errors.Is(err, order.ErrUnknownKind))

	_, err = r.Lookup(order.Limit)
	assert.True(t, errors.Is(err, order.ErrUnknownKind))
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(order.Market, Market(nil)))

	var calls int
	replacement := StrategyFunc(func(id order.ID, req order.Request, at time.Time) (*order.Order, error) {
		calls++
		return order.New(id, req, at)
	})
	require.NoError(t, r.Register(order.Market, replacement))

	_, err := r.Create(1, request(order.Market))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRegistry_RejectsNilStrategy(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(order.Market, nil))
	assert.Empty(t, r.Kinds())
}

func TestRegistry_Kinds(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(order.Limit, Limit(nil)))
	require.NoError(t, r.Register(order.Market, Market(nil)))

	assert.Equal(t, []order.Kind{order.Market, order.Limit}, r.Kinds())
}

func TestRegistry_PropagatesValidation(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(order.Market, Market(nil)))

	req := request(order.Market)
	req.Stock.Price = -5
	_, err := r.Create(1, req)
	assert.True(t, errors.Is(err, order.ErrValidation))
}

type countingAllocator struct {
	buf        *order.Order
	gets, puts int
}

func (a *countingAllocator) Get() *order.Order { a.gets++; return a.buf }

func (a *countingAllocator) Put(o *order.Order) bool {
	if o != a.buf {
		return false
	}
	a.puts++
	return true
}

func TestKindStrategy_UsesAllocator(t *testing.T) {
	alloc := &countingAllocator{buf: &order.Order{}}
	s := Limit(alloc)

	o, err := s.Create(4, request(order.Limit), time.Now())
	require.NoError(t, err)
	assert.Same(t, alloc.buf, o)
	assert.Equal(t, 1, alloc.gets)
	assert.Zero(t, alloc.puts)
}

func TestKindStrategy_ReturnsAllocationOnBuildError(t *testing.T) {
	alloc := &countingAllocator{buf: &order.Order{}}
	req := request(order.Market)
	req.Stock.Name = ""

	_, err := Market(alloc).Create(4, req, time.Now())
	assert.True(t, errors.Is(err, order.ErrValidation))
	assert.Equal(t, 1, alloc.gets)
	assert.Equal(t, 1, alloc.puts)
}

func TestKindStrategy_RejectsForeignKind(t *testing.T) {
	_, err := Market(nil).Create(1, request(order.Limit), time.Now())
	assert.Error(t, err)
}
