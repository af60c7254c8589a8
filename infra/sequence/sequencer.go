package sequence

import "sync/atomic"

// Sequencer issues strictly increasing identifiers. The first call to
// Next after New(start) returns start+1, so zero is never issued from a
// fresh sequencer and can mean "unassigned".
type Sequencer[T ~uint64] struct {
	last atomic.Uint64
}

func New[T ~uint64](start T) *Sequencer[T] {
	s := &Sequencer[T]{}
	s.last.Store(uint64(start))
	return s
}

// Next returns the next identifier. Safe for concurrent use.
func (s *Sequencer[T]) Next() T {
	return T(s.last.Add(1))
}

// Last returns the most recently issued identifier.
func (s *Sequencer[T]) Last() T {
	return T(s.last.Load())
}
