package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"

	"stockbroker/domain/order"
)

type RegistrySuite struct {
	suite.Suite
	reg      *Registry
	released map[*order.Order]int
	reasons  map[order.ID][]Reason
	mu       sync.Mutex
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.released = make(map[*order.Order]int)
	s.reasons = make(map[order.ID][]Reason)
	s.reg = New(WithRelease(func(o *order.Order, why Reason) {
		s.mu.Lock()
		s.released[o]++
		s.reasons[o.ID()] = append(s.reasons[o.ID()], why)
		s.mu.Unlock()
	}))
}

func (s *RegistrySuite) newOrder(id order.ID, name string) *order.Order {
	o, err := order.New(id, order.Request{
		Stock: order.StockRef{ID: int64(id) + 100, Price: 1000, Name: name},
		Kind:  order.Limit,
		Venue: order.NSE,
		Side:  order.Buy,
	}, time.Now())
	s.Require().NoError(err)
	return o
}

func (s *RegistrySuite) releaseCount(o *order.Order) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released[o]
}

func (s *RegistrySuite) ids(views []order.View) []order.ID {
	out := make([]order.ID, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}

func (s *RegistrySuite) TestAddAndList() {
	s.Run("lists in insertion order", func() {
		for _, id := range []order.ID{3, 1, 2} {
			replaced, err := s.reg.Add(s.newOrder(id, "X"))
			s.Require().NoError(err)
			s.False(replaced)
		}
		s.Equal([]order.ID{3, 1, 2}, s.ids(s.reg.List()))
		s.Equal(3, s.reg.Len())
	})

	s.Run("rejects nil", func() {
		_, err := s.reg.Add(nil)
		s.Error(err)
	})
}

func (s *RegistrySuite) TestGet() {
	o := s.newOrder(5, "Infosys")
	_, err := s.reg.Add(o)
	s.Require().NoError(err)

	v, ok := s.reg.Get(5)
	s.Require().True(ok)
	s.Equal(o.View(), v)

	_, ok = s.reg.Get(6)
	s.False(ok)
}

func (s *RegistrySuite) TestCancel() {
	s.Run("removes and releases once", func() {
		a, b := s.newOrder(1, "A"), s.newOrder(2, "B")
		_, _ = s.reg.Add(a)
		_, _ = s.reg.Add(b)

		s.True(s.reg.Cancel(1))
		s.Equal(1, s.releaseCount(a))
		s.Equal(0, s.releaseCount(b))
		s.Equal([]order.ID{2}, s.ids(s.reg.List()))

		s.False(s.reg.Cancel(1), "second cancel finds nothing")
		s.Equal(1, s.releaseCount(a))
		s.Equal([]Reason{Cancelled}, s.reasons[1])
	})

	s.Run("unknown id leaves size unchanged", func() {
		before := s.reg.Len()
		s.False(s.reg.Cancel(999))
		s.Equal(before, s.reg.Len())
	})
}

func (s *RegistrySuite) TestCancelMiddleKeepsOrder() {
	for _, id := range []order.ID{1, 2, 3, 4} {
		_, _ = s.reg.Add(s.newOrder(id, "X"))
	}
	s.True(s.reg.Cancel(2))
	s.True(s.reg.Cancel(4))
	s.Equal([]order.ID{1, 3}, s.ids(s.reg.List()))

	_, _ = s.reg.Add(s.newOrder(5, "X"))
	s.Equal([]order.ID{1, 3, 5}, s.ids(s.reg.List()))
}

func (s *RegistrySuite) TestAddReplacesSameID() {
	old := s.newOrder(1, "Old")
	_, _ = s.reg.Add(old)
	_, _ = s.reg.Add(s.newOrder(2, "Other"))

	newer := s.newOrder(1, "New")
	replaced, err := s.reg.Add(newer)
	s.Require().NoError(err)
	s.True(replaced)

	s.Equal(1, s.releaseCount(old), "replaced order released exactly once")
	s.Equal([]Reason{Replaced}, s.reasons[1])
	s.Equal(0, s.releaseCount(newer))
	s.Equal(2, s.reg.Len())
	s.Equal([]order.ID{2, 1}, s.ids(s.reg.List()))

	v, _ := s.reg.Get(1)
	s.Equal("New", v.Stock.Name)
}

func (s *RegistrySuite) TestClose() {
	orders := []*order.Order{s.newOrder(1, "A"), s.newOrder(2, "B"), s.newOrder(3, "C")}
	for _, o := range orders {
		_, _ = s.reg.Add(o)
	}
	s.reg.Cancel(2)

	s.Equal(2, s.reg.Close())
	for _, o := range orders {
		s.Equal(1, s.releaseCount(o), "order %d", o.ID())
	}
	s.Zero(s.reg.Len())
	s.Empty(s.reg.List())
	s.Equal([]Reason{Cancelled}, s.reasons[2])
	s.Equal([]Reason{Closed}, s.reasons[1])
	s.Equal([]Reason{Closed}, s.reasons[3])

	s.Run("second close is a no-op", func() {
		s.Zero(s.reg.Close())
	})

	s.Run("add after close fails without releasing", func() {
		late := s.newOrder(9, "Late")
		_, err := s.reg.Add(late)
		s.True(errors.Is(err, ErrClosed))
		s.Zero(s.releaseCount(late))
	})

	s.Run("cancel after close reports not found", func() {
		s.False(s.reg.Cancel(1))
	})
}

func (s *RegistrySuite) TestConcurrentAccess() {
	const workers, perWorker = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := order.ID(w*perWorker + i + 1)
				o, err := order.New(id, order.Request{
					Stock: order.StockRef{ID: int64(id), Name: fmt.Sprintf("S%d", id)},
				}, time.Now())
				if err != nil {
					panic(err)
				}
				_, _ = s.reg.Add(o)
				_ = s.reg.List()
				if i%2 == 0 {
					s.reg.Cancel(id)
				}
			}
		}(w)
	}
	wg.Wait()

	s.Equal(workers*perWorker/2, s.reg.Len())
	s.Len(s.reg.List(), workers*perWorker/2)
}

func TestReason_String(t *testing.T) {
	for r, want := range map[Reason]string{Cancelled: "cancelled", Replaced: "replaced", Closed: "closed", 0: "unknown"} {
		if r.String() != want {
			t.Errorf("Reason(%d).String() = %q, want %q", r, r.String(), want)
		}
	}
}

func TestRegistry_WithoutReleaseHook(t *testing.T) {
	r := New()
	o, err := order.New(1, order.Request{Stock: order.StockRef{Name: "A"}}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Add(o); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !r.Cancel(1) {
		t.Fatal("expected cancel to succeed")
	}
}

func TestRegistry_AddedHookRunsBeforeRelease(t *testing.T) {
	var log []string
	reg := New(
		WithAdded(func(o *order.Order, replaced bool) {
			log = append(log, fmt.Sprintf("added %s replaced=%t", o.Stock().Name, replaced))
		}),
		WithRelease(func(o *order.Order, why Reason) {
			log = append(log, fmt.Sprintf("released %s %s", o.Stock().Name, why))
		}),
	)

	mk := func(name string) *order.Order {
		o, err := order.New(1, order.Request{Stock: order.StockRef{ID: 1, Price: 10, Name: name}}, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		return o
	}

	if _, err := reg.Add(mk("A")); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add(mk("B")); err != nil {
		t.Fatal(err)
	}
	reg.Cancel(1)

	want := []string{
		"added A replaced=false",
		"released A replaced",
		"added B replaced=true",
		"released B cancelled",
	}
	if fmt.Sprint(log) != fmt.Sprint(want) {
		t.Fatalf("hook order = %q, want %q", log, want)
	}

	reg.Close()
	if _, err := reg.Add(mk("C")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Add after Close = %v, want ErrClosed", err)
	}
	if len(log) != len(want) {
		t.Fatalf("hook ran for a rejected Add: %q", log)
	}
}
