package factory

import (
	"time"

	"github.com/cockroachdb/errors"

	"stockbroker/domain/order"
)

// Allocator supplies blank orders and takes back the ones it supplied.
// Put reports false for orders it did not hand out. A nil Allocator
// means heap allocation.
type Allocator interface {
	Get() *order.Order
	Put(*order.Order) bool
}

// kindStrategy builds orders of a single kind. Market and limit orders
// share a representation, so they differ only in the tag.
type kindStrategy struct {
	kind  order.Kind
	alloc Allocator
}

// Market builds market orders.
func Market(alloc Allocator) Strategy {
	return &kindStrategy{kind: order.Market, alloc: alloc}
}

// Limit builds limit orders.
func Limit(alloc Allocator) Strategy {
	return &kindStrategy{kind: order.Limit, alloc: alloc}
}

func (s *kindStrategy) Create(id order.ID, req order.Request, at time.Time) (*order.Order, error) {
	if req.Kind != s.kind {
		return nil, errors.Newf("factory: %s strategy cannot build %s order", s.kind, req.Kind)
	}

	if s.alloc == nil {
		return order.New(id, req, at)
	}

	o := s.alloc.Get()
	if err := order.Build(o, id, req, at); err != nil {
		s.alloc.Put(o)
		return nil, err
	}
	return o, nil
}
