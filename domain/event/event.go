// Package event describes order lifecycle transitions as they are
// recorded to the outbox and published downstream.
package event

import (
	"time"

	"stockbroker/domain/order"
)

type Type uint8

const (
	Placed Type = iota + 1
	Replaced
	Cancelled
	Destroyed
	Rejected
)

func (t Type) String() string {
	switch t {
	case Placed:
		return "placed"
	case Replaced:
		return "replaced"
	case Cancelled:
		return "cancelled"
	case Destroyed:
		return "destroyed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

func parseType(s string) Type {
	for t := Placed; t <= Rejected; t++ {
		if t.String() == s {
			return t
		}
	}
	return 0
}

// Event is one lifecycle transition. Order is the zero View for
// rejections that happen before an order exists; Reason is set only for
// rejections.
type Event struct {
	Seq    uint64
	Type   Type
	Order  order.View
	Reason string
	At     time.Time
}

// Key partitions events by order so a consumer sees one order's
// transitions in sequence.
func (e Event) Key() []byte {
	if e.Order.ID == 0 {
		return nil
	}
	return []byte(e.Order.Stock.Name + "/" + formatUint(uint64(e.Order.ID)))
}
