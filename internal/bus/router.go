// Package bus defines the interface the KNXnet/IP gateway core uses
// to talk to the KNX bus router: an opaque external collaborator
// responsible for individual-address allocation and for delivering
// telegrams to and from the physical (or simulated) bus. Its internals
// — media drivers, the group-address filter chain, bus topology — are
// not part of this package.
package bus

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-core/internal/cemi"
)

// ErrNoFreeAddress is returned by AllocateAddress when the router's
// client-address pool is exhausted.
var ErrNoFreeAddress = errors.New("bus: no free individual address")

// Router is the narrow interface the gateway core depends on. It is
// implemented by the real bus router elsewhere in the platform and by
// a loopback fake in this package for tests.
type Router interface {
	// AllocateAddress reserves and returns the next free individual
	// address for a newly opened tunnel connection.
	AllocateAddress(ctx context.Context) (cemi.Address, error)

	// ReleaseAddress returns addr to the pool. Called exactly once
	// per allocation, at connection teardown.
	ReleaseAddress(addr cemi.Address)

	// RegisterBusmonitor registers sink to receive every bus frame
	// (passive monitor mode). The returned func deregisters it; it is
	// called exactly once, at teardown.
	RegisterBusmonitor(sink BusmonitorSink) (deregister func())

	// RegisterLink registers a link (the gateway's routing driver, or
	// a tunnel connection's upward path) with the router. The
	// returned func deregisters it.
	RegisterLink(link Link) (deregister func())

	// Deliver pushes a telegram from the IP side down onto the bus.
	Deliver(ctx context.Context, f cemi.LData) error
}

// BusmonitorSink receives every frame observed on the bus, in arrival
// order, for TUNNEL_BUSMONITOR connections.
type BusmonitorSink interface {
	OnBusFrame(f cemi.LData)
}

// Link receives bus-originated L_Data.ind frames destined for the IP
// side: the routing driver (§4.C) and TUNNEL_STANDARD connections
// (§4.D) are both links from the router's point of view.
type Link interface {
	OnLinkFrame(f cemi.LData)
}
