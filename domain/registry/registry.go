// Package registry owns every live order. Orders enter through Add and
// leave exactly once, through Cancel, through replacement by a newer
// order with the same id, or through Close.
package registry

import (
	"sync"

	"github.com/cockroachdb/errors"

	"stockbroker/domain/order"
)

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("registry: closed")

// Reason says why an order left the registry.
type Reason uint8

const (
	Cancelled Reason = iota + 1
	Replaced
	Closed
)

func (r Reason) String() string {
	switch r {
	case Cancelled:
		return "cancelled"
	case Replaced:
		return "replaced"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReleaseFunc receives an order once it has left the registry. It runs
// under the registry lock, so releases are observed in the same order as
// the mutations that caused them. The registry never touches the order
// again afterwards.
type ReleaseFunc func(o *order.Order, why Reason)

// AddedFunc observes an order right after it entered the registry. Like
// ReleaseFunc it runs under the registry lock, so an order's admission is
// always observed before its release.
type AddedFunc func(o *order.Order, replaced bool)

// Option configures a Registry.
type Option func(*Registry)

// WithRelease installs the hook called for every released order.
func WithRelease(fn ReleaseFunc) Option {
	return func(r *Registry) { r.release = fn }
}

// WithAdded installs the hook called for every admitted order. The hook
// must not keep o.
func WithAdded(fn AddedFunc) Option {
	return func(r *Registry) { r.added = fn }
}

// Registry indexes orders by id and keeps them in insertion order.
// A single mutex serializes Add, Cancel, List and Close.
type Registry struct {
	mu      sync.Mutex
	index   map[order.ID]*slot
	queue   queue
	release ReleaseFunc
	added   AddedFunc
	closed  bool
}

func New(opts ...Option) *Registry {
	r := &Registry{index: make(map[order.ID]*slot)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add takes ownership of o. If an order with the same id is already
// live it is released and o takes its place at the back of the queue.
func (r *Registry) Add(o *order.Order) (replaced bool, err error) {
	if o == nil {
		return false, errors.New("registry: nil order")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrClosed
	}

	if old, ok := r.index[o.ID()]; ok {
		r.queue.remove(old)
		r.drop(old.order, Replaced)
		replaced = true
	}

	s := &slot{order: o}
	r.queue.push(s)
	r.index[o.ID()] = s
	if r.added != nil {
		r.added(o, replaced)
	}
	return replaced, nil
}

// Cancel removes and releases the order with id. It reports false when
// no such order is live.
func (r *Registry) Cancel(id order.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.index[id]
	if !ok {
		return false
	}
	delete(r.index, id)
	r.queue.remove(s)
	r.drop(s.order, Cancelled)
	return true
}

// Get returns a view of the order with id.
func (r *Registry) Get(id order.ID) (order.View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.index[id]
	if !ok {
		return order.View{}, false
	}
	return s.order.View(), true
}

// List returns a snapshot of all live orders, oldest first.
func (r *Registry) List() []order.View {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]order.View, 0, r.queue.len)
	for s := r.queue.head; s != nil; s = s.next {
		out = append(out, s.order.View())
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.len
}

// Close releases every remaining order and returns how many there were.
// Calling Close again is a no-op.
func (r *Registry) Close() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0
	}
	r.closed = true

	n := 0
	for s := r.queue.pop(); s != nil; s = r.queue.pop() {
		delete(r.index, s.order.ID())
		r.drop(s.order, Closed)
		n++
	}
	return n
}

// drop hands o to the release hook. Callers hold r.mu.
func (r *Registry) drop(o *order.Order, why Reason) {
	if r.release != nil {
		r.release(o, why)
	}
}
