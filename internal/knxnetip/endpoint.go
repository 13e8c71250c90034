package knxnetip

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv6"
)

// multicastHopLimit bounds how far a ROUTING_INDICATION/search
// multicast may travel — spec.md's IPv6-native transport caps this at
// 10 hops, matching a building's worth of routed segments without
// leaking onto the wider network.
const multicastHopLimit = 10

// maxDatagram is the largest KNXnet/IP datagram this gateway reads:
// 255 bytes. A longer datagram is cut to this size on read, and the
// header's length check then rejects it.
const maxDatagram = 255

// endpointFailThreshold is the number of consecutive socket errors
// (send and receive errors share one counter) after which Failed
// reports true; the receive loop also stops reading at that point. A
// datagram whose send fails is dropped, not retried.
const endpointFailThreshold = 5

// ReceiveFilter decides whether a datagram from a given source should
// be handed to the dispatcher. The four policies named in §4.B/§7:
// accept from anyone, accept only a fixed peer, accept anyone but
// ourselves (multicast loop suppression), or accept from either of two
// known peers (primary/secondary).
type ReceiveFilter func(src *net.UDPAddr) bool

// AcceptAll is the permissive filter used by the main gateway socket.
func AcceptAll(*net.UDPAddr) bool { return true }

// AcceptFixedPeer only accepts datagrams from exactly peer.
func AcceptFixedPeer(peer *net.UDPAddr) ReceiveFilter {
	return func(src *net.UDPAddr) bool {
		return src != nil && src.IP.Equal(peer.IP) && src.Port == peer.Port
	}
}

// AcceptNotSelf rejects datagrams whose source matches self, used to
// suppress a multicast sender's own loopback copy.
func AcceptNotSelf(self *net.UDPAddr) ReceiveFilter {
	return func(src *net.UDPAddr) bool {
		return !(src != nil && src.IP.Equal(self.IP) && src.Port == self.Port)
	}
}

// AcceptPrimaryOrSecondary accepts datagrams from either of two peers.
func AcceptPrimaryOrSecondary(primary, secondary *net.UDPAddr) ReceiveFilter {
	return func(src *net.UDPAddr) bool {
		return AcceptFixedPeer(primary)(src) || (secondary != nil && AcceptFixedPeer(secondary)(src))
	}
}

// Endpoint wraps a single UDP socket — unicast or multicast-joined —
// with a bounded FIFO send queue and consecutive-error tracking. One
// Endpoint backs the gateway's control/data socket; with multi-port
// routing a second Endpoint is bound to the multicast group, otherwise
// the first one joins the group itself (JoinMulticastGroup).
type Endpoint struct {
	conn   *net.UDPConn
	pconn  *ipv6.PacketConn // non-nil only for multicast-joined endpoints
	iface  *net.Interface
	filter ReceiveFilter

	sendq   chan outboundDatagram
	closeCh chan struct{}
	closeOn sync.Once

	consecutiveErrs atomic.Int32
	failed          atomic.Bool
}

type outboundDatagram struct {
	dst  *net.UDPAddr
	data []byte
}

// ListenUnicast opens a single UDP socket bound to addr (an IPv6
// wildcard or specific address), with no multicast membership.
func ListenUnicast(addr *net.UDPAddr, filter ReceiveFilter) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp6", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", ErrEndpointFailed, addr, err)
	}
	return newEndpoint(conn, nil, nil, filter), nil
}

// ListenMulticast opens a UDP socket, joins the given multicast group
// on ifc (nil selects the system default), and configures the hop
// limit and loopback behaviour §4.B requires for the routing service.
func ListenMulticast(group *net.UDPAddr, ifc *net.Interface, filter ReceiveFilter) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: group.Port})
	if err != nil {
		return nil, fmt.Errorf("%w: listen multicast port %d: %v", ErrEndpointFailed, group.Port, err)
	}

	pconn := ipv6.NewPacketConn(conn)
	if err := pconn.JoinGroup(ifc, &net.UDPAddr{IP: group.IP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: join group %s: %v", ErrEndpointFailed, group.IP, err)
	}
	if err := pconn.SetMulticastHopLimit(multicastHopLimit); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: set hop limit: %v", ErrEndpointFailed, err)
	}
	if err := pconn.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: set multicast loopback: %v", ErrEndpointFailed, err)
	}
	if ifc != nil {
		if err := pconn.SetMulticastInterface(ifc); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: set multicast interface %s: %v", ErrEndpointFailed, ifc.Name, err)
		}
	}

	return newEndpoint(conn, pconn, ifc, filter), nil
}

// JoinMulticastGroup upgrades an already-open unicast Endpoint into a
// multicast listener in place, for single-socket operation (§6's
// multi-port=false): the same socket that receives SEARCH_REQUEST and
// tunnelling traffic also joins the routing group, instead of opening
// a second dedicated Endpoint. Mirrors the join sequence ListenMulticast
// performs on a fresh socket.
func (e *Endpoint) JoinMulticastGroup(group *net.UDPAddr, ifc *net.Interface) error {
	pconn := ipv6.NewPacketConn(e.conn)
	if err := pconn.JoinGroup(ifc, &net.UDPAddr{IP: group.IP}); err != nil {
		return fmt.Errorf("%w: join group %s: %v", ErrEndpointFailed, group.IP, err)
	}
	if err := pconn.SetMulticastHopLimit(multicastHopLimit); err != nil {
		return fmt.Errorf("%w: set hop limit: %v", ErrEndpointFailed, err)
	}
	if err := pconn.SetMulticastLoopback(true); err != nil {
		return fmt.Errorf("%w: set multicast loopback: %v", ErrEndpointFailed, err)
	}
	if ifc != nil {
		if err := pconn.SetMulticastInterface(ifc); err != nil {
			return fmt.Errorf("%w: set multicast interface %s: %v", ErrEndpointFailed, ifc.Name, err)
		}
	}

	// Loopback is on (sibling gateways on the same host must see each
	// other's routed traffic), so this socket will receive its own
	// sends back. Fold self-rejection into the existing filter the
	// same way the dual-socket path's AcceptNotSelf does, so a single
	// socket doesn't re-dispatch its own ROUTING_INDICATION.
	self, prev := e.LocalAddr(), e.filter
	e.filter = func(src *net.UDPAddr) bool {
		return AcceptNotSelf(self)(src) && prev(src)
	}
	e.pconn = pconn
	e.iface = ifc
	return nil
}

func newEndpoint(conn *net.UDPConn, pconn *ipv6.PacketConn, ifc *net.Interface, filter ReceiveFilter) *Endpoint {
	if filter == nil {
		filter = AcceptAll
	}
	return &Endpoint{
		conn:    conn,
		pconn:   pconn,
		iface:   ifc,
		filter:  filter,
		sendq:   make(chan outboundDatagram, 64),
		closeCh: make(chan struct{}),
	}
}

// LocalAddr returns the socket's bound local address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Failed reports whether the endpoint has escalated past its
// consecutive-error threshold and should be considered dead.
func (e *Endpoint) Failed() bool {
	return e.failed.Load()
}

// Send enqueues a datagram for asynchronous delivery, preserving
// per-endpoint FIFO order.
func (e *Endpoint) Send(dst *net.UDPAddr, data []byte) {
	select {
	case e.sendq <- outboundDatagram{dst: dst, data: data}:
	case <-e.closeCh:
	}
}

// runSend drains the send queue. Call once, in its own goroutine, for
// the Endpoint's lifetime.
func (e *Endpoint) runSend() {
	for {
		select {
		case dg := <-e.sendq:
			_, err := e.conn.WriteToUDP(dg.data, dg.dst)
			if err != nil {
				n := e.consecutiveErrs.Add(1)
				if n >= endpointFailThreshold {
					e.failed.Store(true)
				}
				continue
			}
			e.consecutiveErrs.Store(0)
		case <-e.closeCh:
			return
		}
	}
}

// Start launches the endpoint's send loop and begins delivering
// accepted datagrams to handle. handle is called synchronously from
// the receive goroutine; it must not block.
func (e *Endpoint) Start(handle func(src *net.UDPAddr, buf []byte)) {
	go e.runSend()
	go e.runReceive(handle)
}

func (e *Endpoint) runReceive(handle func(src *net.UDPAddr, buf []byte)) {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := e.conn.ReadFromUDP(buf)
		select {
		case <-e.closeCh:
			return
		default:
		}
		if err != nil {
			n := e.consecutiveErrs.Add(1)
			if n >= endpointFailThreshold {
				e.failed.Store(true)
				return
			}
			continue
		}
		if !e.filter(src) {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		handle(src, frame)
	}
}

// Close shuts the endpoint down; idempotent.
func (e *Endpoint) Close() error {
	var err error
	e.closeOn.Do(func() {
		close(e.closeCh)
		err = e.conn.Close()
	})
	return err
}
