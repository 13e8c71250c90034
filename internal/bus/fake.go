package bus

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-core/internal/cemi"
)

// FakeRouter is a loopback Router test double: AllocateAddress hands
// out addresses from a small configurable pool, Deliver records what
// was sent and echoes it to registered links, and RegisterBusmonitor/
// RegisterLink track live registrations for assertions. It is grounded
// on the allocator-plus-lookup-table shape of the teacher's device
// group repository.
type FakeRouter struct {
	mu sync.Mutex

	free      []cemi.Address
	used      map[cemi.Address]bool
	links     map[int]Link
	monitors  map[int]BusmonitorSink
	nextID    int
	Delivered []cemi.LData
}

// NewFakeRouter builds a FakeRouter whose address pool is the given
// addresses, offered in order.
func NewFakeRouter(pool ...cemi.Address) *FakeRouter {
	return &FakeRouter{
		free:     append([]cemi.Address(nil), pool...),
		used:     make(map[cemi.Address]bool),
		links:    make(map[int]Link),
		monitors: make(map[int]BusmonitorSink),
	}
}

// AllocateAddress implements Router.
func (r *FakeRouter) AllocateAddress(_ context.Context) (cemi.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.free) == 0 {
		return 0, ErrNoFreeAddress
	}
	addr := r.free[0]
	r.free = r.free[1:]
	r.used[addr] = true
	return addr, nil
}

// ReleaseAddress implements Router.
func (r *FakeRouter) ReleaseAddress(addr cemi.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used[addr] {
		delete(r.used, addr)
		r.free = append(r.free, addr)
	}
}

// RegisterBusmonitor implements Router.
func (r *FakeRouter) RegisterBusmonitor(sink BusmonitorSink) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.monitors[id] = sink
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.monitors, id)
		r.mu.Unlock()
	}
}

// RegisterLink implements Router.
func (r *FakeRouter) RegisterLink(link Link) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.links[id] = link
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.links, id)
		r.mu.Unlock()
	}
}

// Deliver implements Router: it records the telegram and, for test
// convenience, fans it back out to every registered link and monitor
// as if the bus had echoed it (loopback).
func (r *FakeRouter) Deliver(_ context.Context, f cemi.LData) error {
	r.mu.Lock()
	r.Delivered = append(r.Delivered, f)
	links := make([]Link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	monitors := make([]BusmonitorSink, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	r.mu.Unlock()

	for _, l := range links {
		l.OnLinkFrame(f)
	}
	for _, m := range monitors {
		m.OnBusFrame(f)
	}
	return nil
}

// PushToLinks delivers f to every registered link directly, simulating
// a bus-originated frame (as opposed to one looped back from Deliver).
func (r *FakeRouter) PushToLinks(f cemi.LData) {
	r.mu.Lock()
	links := make([]Link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	r.mu.Unlock()

	for _, l := range links {
		l.OnLinkFrame(f)
	}
}

// LiveLinkCount returns the number of currently registered links.
func (r *FakeRouter) LiveLinkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

// LiveMonitorCount returns the number of currently registered
// busmonitor sinks.
func (r *FakeRouter) LiveMonitorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}
