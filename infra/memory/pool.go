package memory

import "sync"

// Pool is a typed object pool that tracks the objects it has handed out.
// Put only takes back those, so objects allocated elsewhere can pass
// through the same release path without skewing the count.
type Pool[T any] struct {
	p     sync.Pool
	reset func(*T)

	mu  sync.Mutex
	out map[*T]struct{}
}

// NewPool builds a pool. reset, when non-nil, runs on every object
// before it goes back into the pool.
func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	return &Pool[T]{
		p:     sync.Pool{New: func() any { return ctor() }},
		reset: reset,
		out:   make(map[*T]struct{}),
	}
}

func (p *Pool[T]) Get() *T {
	v := p.p.Get().(*T)
	p.mu.Lock()
	p.out[v] = struct{}{}
	p.mu.Unlock()
	return v
}

// Put returns v to the pool and reports whether it was taken. Objects
// the pool did not hand out, or already took back, are left alone.
func (p *Pool[T]) Put(v *T) bool {
	if v == nil {
		return false
	}
	p.mu.Lock()
	_, ok := p.out[v]
	delete(p.out, v)
	p.mu.Unlock()
	if !ok {
		return false
	}

	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
	return true
}

// Outstanding reports objects handed out and not yet returned.
func (p *Pool[T]) Outstanding() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.out))
}
