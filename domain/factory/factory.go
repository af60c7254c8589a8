// Package factory decouples which order representation is built from how
// it is built. Strategies are keyed by order kind and installed on a
// Registry before the broker starts taking orders.
package factory

import (
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"stockbroker/domain/order"
)

// Strategy builds an order for a request of the kind it is registered for.
type Strategy interface {
	Create(id order.ID, req order.Request, at time.Time) (*order.Order, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(id order.ID, req order.Request, at time.Time) (*order.Order, error)

func (f StrategyFunc) Create(id order.ID, req order.Request, at time.Time) (*order.Order, error) {
	return f(id, req, at)
}

// Registry maps order kinds to strategies. Last registration for a kind wins.
type Registry struct {
	mu         sync.RWMutex
	strategies map[order.Kind]Strategy
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[order.Kind]Strategy),
		now:        time.Now,
	}
}

// Register installs or replaces the strategy for kind.
func (r *Registry) Register(kind order.Kind, s Strategy) error {
	if s == nil {
		return errors.Newf("factory: nil strategy for %s", kind)
	}
	r.mu.Lock()
	r.strategies[kind] = s
	r.mu.Unlock()
	return nil
}

// Lookup returns the strategy for kind or order.ErrUnknownKind.
func (r *Registry) Lookup(kind order.Kind) (Strategy, error) {
	r.mu.RLock()
	s, ok := r.strategies[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(order.ErrUnknownKind, "no strategy for %s", kind)
	}
	return s, nil
}

// Create looks up the strategy for req.Kind and delegates construction,
// stamping the registry clock.
func (r *Registry) Create(id order.ID, req order.Request) (*order.Order, error) {
	s, err := r.Lookup(req.Kind)
	if err != nil {
		return nil, err
	}
	return s.Create(id, req, r.now())
}

// Kinds returns the registered kinds in ordinal order.
func (r *Registry) Kinds() []order.Kind {
	r.mu.RLock()
	out := make([]order.Kind, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}
