package registry

import "stockbroker/domain/order"

type slot struct {
	order *order.Order

	next *slot
	prev *slot
}

// queue is an intrusive FIFO of slots.
type queue struct {
	head *slot
	tail *slot
	len  int
}

func (q *queue) push(s *slot) {
	if q.head == nil {
		q.head = s
		q.tail = s
	} else {
		q.tail.next = s
		s.prev = q.tail
		q.tail = s
	}
	q.len++
}

func (q *queue) remove(s *slot) {
	if s.prev != nil {
		s.prev.next = s.next
	} else {
		q.head = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		q.tail = s.prev
	}
	s.next = nil
	s.prev = nil
	q.len--
}

func (q *queue) pop() *slot {
	s := q.head
	if s == nil {
		return nil
	}
	q.remove(s)
	return s
}
