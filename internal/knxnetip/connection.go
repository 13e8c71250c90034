package knxnetip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-core/internal/cemi"
)

// Timing constants from the gateway specification.
const (
	sendTimeout       = 1 * time.Second
	maxRetries        = 2 // up to 3 sends total
	connectionAlive   = 120 * time.Second
)

// ConnState is the lifecycle state of a Connection.
type ConnState int

// Connection lifecycle states.
const (
	StateIdle ConnState = iota
	StateLive
	StateStopping
)

// ConnHost is the small server-facing API a Connection uses: sending
// session/control frames to the client, delivering CEMI to the bus
// router, and notifying the server that this connection wants to be
// torn down. It is implemented by *Server; connections hold no other
// reference to the server.
type ConnHost interface {
	SendSession(c *Connection, service ServiceType, body []byte) error
	SendControl(c *Connection, service ServiceType, body []byte) error
	Deliver(ctx context.Context, f cemi.LData) error
	ScheduleDrop(channel byte, sendDisconnect bool)
	Trace(format string, args ...any)
}

// Connection is the per-client state machine of §4.D: one instance per
// tunnel/busmonitor/config session, tracking sequence numbers in both
// directions, the outbound queue, and the retry/heartbeat timers.
//
// All exported methods are safe for concurrent use; the mutex makes
// each inbound event (timer fire, inbound frame, bus push) an atomic
// transition, matching the "suspension points" model of §5.
type Connection struct {
	host ConnHost

	Channel byte
	Type    ConnectionType
	Addr    cemi.Address // 0 for CONFIG connections
	DAddr   *net.UDPAddr
	CAddr   *net.UDPAddr
	NAT     bool

	mu         sync.Mutex
	state      ConnState
	rno        byte
	sno        byte
	retries    int
	outq       [][]byte // pending CEMI payloads, oldest first
	retryTimer *time.Timer
	heartbeat  *time.Timer
	monitorSeq uint32

	// linkDeregister/monitorDeregister are set by Server immediately
	// after registering this connection with the bus router; Server
	// calls them at teardown. nil for connection types that register
	// neither (CONFIG).
	linkDeregister    func()
	monitorDeregister func()
}

// NewConnection constructs a live connection. The caller (Server) has
// already allocated the channel id and, for tunnel connections, the
// bus address.
func NewConnection(host ConnHost, channel byte, ctype ConnectionType, addr cemi.Address, daddr, caddr *net.UDPAddr, nat bool) *Connection {
	c := &Connection{
		host:    host,
		Channel: channel,
		Type:    ctype,
		Addr:    addr,
		DAddr:   daddr,
		CAddr:   caddr,
		NAT:     nat,
		state:   StateLive,
	}
	c.armHeartbeat()
	return c
}

// ackService/reqService return the service types this connection's
// session traffic uses: Tunnelling for TUNNEL_* types, Device
// Management for CONFIG.
func (c *Connection) reqService() ServiceType {
	if c.Type == ConfigConnection {
		return ConfigurationRequest
	}
	return TunnelRequest
}

func (c *Connection) ackService() ServiceType {
	if c.Type == ConfigConnection {
		return ConfigurationAck
	}
	return TunnelResponse
}

// IsLive reports whether the connection is still in the Live state.
func (c *Connection) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateLive
}

// armHeartbeat (re)starts the 120s liveness deadline. Rearming is
// idempotent.
func (c *Connection) armHeartbeat() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
	}
	c.heartbeat = time.AfterFunc(connectionAlive, c.onHeartbeatExpired)
}

func (c *Connection) onHeartbeatExpired() {
	c.mu.Lock()
	if c.state != StateLive {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	c.mu.Unlock()

	c.host.Trace("connection %d: %v", c.Channel, ErrHeartbeatExpired)
	c.host.ScheduleDrop(c.Channel, true)
}

// HandleConnectionStateRequest resets the heartbeat (per spec: "any
// valid session frame" resets the deadline, and CONNECTIONSTATE_REQUEST
// explicitly does) and reports whether the connection is alive.
func (c *Connection) HandleConnectionStateRequest() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLive {
		return StatusConnectionID
	}
	c.armHeartbeat()
	return StatusNoError
}

// HandleSessionRequest processes an inbound TUNNELING_REQUEST or
// DEVICE_CONFIGURATION_REQUEST: the shared sequence discipline of
// §4.D/§8.
func (c *Connection) HandleSessionRequest(ctx context.Context, seq byte, cemiFrame []byte) {
	c.mu.Lock()
	if c.state != StateLive {
		c.mu.Unlock()
		return
	}

	switch {
	case seq == c.rno:
		c.rno++
		c.armHeartbeat()
		c.mu.Unlock()
		c.ackSeq(seq)
		c.handleInboundCEMI(ctx, cemiFrame)
		return

	case seq == c.rno-1:
		c.mu.Unlock()
		c.ackSeq(seq)
		return

	default:
		c.mu.Unlock()
		c.host.Trace("connection %d: sequence mismatch seq=%d rno=%d", c.Channel, seq, c.rno)
		return
	}
}

func (c *Connection) ackSeq(seq byte) {
	ack := SessionAckBody{Channel: c.Channel, Seq: seq, Status: StatusNoError}
	if err := c.host.SendSession(c, c.ackService(), ack.Encode()); err != nil {
		c.host.Trace("connection %d: send ack failed: %v", c.Channel, err)
	}
}

// handleInboundCEMI dispatches the accepted frame per connection type.
func (c *Connection) handleInboundCEMI(ctx context.Context, raw []byte) {
	switch c.Type {
	case TunnelStandard:
		c.handleTunnelInbound(ctx, raw)
	case ConfigConnection:
		c.handleConfigInbound(raw)
	case TunnelBusmonitor:
		// Busmonitor connections are receive-only; any inbound
		// session traffic is ignored at the CEMI level.
	}
}

// handleTunnelInbound implements §4.D's IP-to-bus push for
// TUNNEL_STANDARD.
func (c *Connection) handleTunnelInbound(ctx context.Context, raw []byte) {
	code, f, err := cemi.DecodeLData(raw)
	if err != nil {
		c.host.Trace("connection %d: malformed CEMI: %v", c.Channel, err)
		return
	}

	switch code {
	case cemi.LDataReq:
		if f.Source == 0 {
			f.Source = c.Addr
		}
		con := f
		con.Source = c.Addr
		c.enqueue(cemi.EncodeLData(cemi.LDataCon, con))
		if err := c.host.Deliver(ctx, cemi.LData{
			Source:      c.Addr,
			Destination: f.Destination,
			GroupAddr:   f.GroupAddr,
			Priority:    f.Priority,
			Data:        f.Data,
		}); err != nil {
			c.host.Trace("connection %d: deliver failed: %v", c.Channel, err)
		}

	case cemi.LDataInd:
		if err := c.host.Deliver(ctx, f); err != nil {
			c.host.Trace("connection %d: deliver failed: %v", c.Channel, err)
		}

	default:
		c.sendTunnelAckStatus(StatusTunnelingLayer)
	}
}

// sendTunnelAckStatus is used for the one case where the session-ack
// already sent (status=0 for sequence acceptance) must be followed by
// an application-level rejection: the spec models this as the normal
// seq ACK plus, here, no further ACK — E_TUNNELING_LAYER has no
// separate wire signal in this profile, so it is traced only.
func (c *Connection) sendTunnelAckStatus(status byte) {
	c.host.Trace("connection %d: rejecting CEMI leader with status 0x%02X", c.Channel, status)
}

// handleConfigInbound implements the trivial object-server stub of
// §4.D/§9.4: ResolveProperty answers (object=0, property=0) plus the
// device object's serial number and firmware revision; everything else
// gets count=0.
func (c *Connection) handleConfigInbound(raw []byte) {
	code, p, err := cemi.DecodePropRead(raw)
	if err != nil {
		c.host.Trace("connection %d: rejecting non-M_PropRead CEMI: %v", c.Channel, err)
		return
	}
	if code != cemi.MPropReadReq {
		return
	}
	c.enqueue(cemi.EncodePropReadCon(ResolveProperty(p)))
}

// enqueue appends a CEMI payload to the outbound queue. If it becomes
// the new head, the send is armed immediately (§3 invariant: at most
// one outbound frame in flight).
func (c *Connection) enqueue(payload []byte) {
	c.mu.Lock()
	c.outq = append(c.outq, payload)
	headOnly := len(c.outq) == 1
	c.mu.Unlock()

	if headOnly {
		c.sendHead()
	}
}

// sendHead transmits the head of outq with the current sno and arms
// the retry timer.
func (c *Connection) sendHead() {
	c.mu.Lock()
	if c.state != StateLive || len(c.outq) == 0 {
		c.mu.Unlock()
		return
	}
	head := c.outq[0]
	sno := c.sno
	c.mu.Unlock()

	req := SessionRequestBody{Channel: c.Channel, Seq: sno, CEMI: head}
	if err := c.host.SendSession(c, c.reqService(), req.Encode()); err != nil {
		c.host.Trace("connection %d: send failed: %v", c.Channel, err)
	}

	c.mu.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(sendTimeout, c.onRetryTimeout)
	c.mu.Unlock()
}

func (c *Connection) onRetryTimeout() {
	c.mu.Lock()
	if c.state != StateLive || len(c.outq) == 0 {
		c.mu.Unlock()
		return
	}
	c.retries++
	if c.retries > maxRetries {
		c.state = StateStopping
		c.outq = c.outq[1:]
		c.mu.Unlock()
		c.host.Trace("connection %d: %v", c.Channel, ErrRetryExhausted)
		c.host.ScheduleDrop(c.Channel, true)
		return
	}
	c.mu.Unlock()
	c.sendHead()
}

// HandleSessionAck processes an inbound TUNNELING_ACK / DEVICE_CONFIGURATION_ACK.
func (c *Connection) HandleSessionAck(seq, status byte) {
	c.mu.Lock()
	if c.state != StateLive || len(c.outq) == 0 {
		c.mu.Unlock()
		return
	}
	if status != StatusNoError || seq != c.sno {
		c.mu.Unlock()
		c.host.Trace("connection %d: ignoring ack seq=%d status=%d (expected seq=%d)", c.Channel, seq, status, c.sno)
		return
	}

	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.outq = c.outq[1:]
	c.sno++
	c.retries = 0
	more := len(c.outq) > 0
	c.mu.Unlock()

	if more {
		c.sendHead()
	}
}

// PushBusFrame implements the bus-to-IP push for TUNNEL_STANDARD:
// received L_Data.ind is enqueued with leader 0x29.
func (c *Connection) PushBusFrame(f cemi.LData) {
	if c.Type != TunnelStandard {
		return
	}
	c.enqueue(cemi.EncodeLData(cemi.LDataInd, f))
}

// PushBusmonFrame implements the bus-to-IP push for TUNNEL_BUSMONITOR:
// every observed bus frame is enqueued with leader 0x2B and a
// monotonically increasing monitor sequence number.
func (c *Connection) PushBusmonFrame(f cemi.LData) {
	if c.Type != TunnelBusmonitor {
		return
	}
	c.mu.Lock()
	seq := c.monitorSeq
	c.monitorSeq++
	c.mu.Unlock()

	payload := cemi.EncodeLData(cemi.LBusmonInd, f)
	payload = append(payload, byte(seq)) //nolint:gosec // wraps by design, matches mod-256 session sequencing
	c.enqueue(payload)
}

// Stop tears the connection down: cancels timers, and — if the
// termination is server-initiated — sends DISCONNECT_REQUEST to the
// client's control endpoint. Idempotent.
func (c *Connection) Stop(sendDisconnect bool) {
	c.mu.Lock()
	// heartbeat is cleared by the first Stop, so later calls return here.
	if c.state == StateIdle || c.heartbeat == nil {
		c.mu.Unlock()
		return
	}
	c.state = StateStopping
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.heartbeat.Stop()
	c.heartbeat = nil
	c.mu.Unlock()

	if sendDisconnect {
		req := DisconnectRequestBody{Channel: c.Channel}
		if err := c.host.SendControl(c, DisconnectRequest, req.Encode()); err != nil {
			c.host.Trace("connection %d: disconnect notify failed: %v", c.Channel, err)
		}
	}
}

// OnLinkFrame implements bus.Link: TUNNEL_STANDARD connections
// register themselves as a link to receive bus-originated frames.
func (c *Connection) OnLinkFrame(f cemi.LData) {
	c.PushBusFrame(f)
}

// OnBusFrame implements bus.BusmonitorSink: TUNNEL_BUSMONITOR
// connections register themselves as a passive monitor sink.
func (c *Connection) OnBusFrame(f cemi.LData) {
	c.PushBusmonFrame(f)
}

// String aids trace logging.
func (c *Connection) String() string {
	return fmt.Sprintf("Connection{channel=%d type=%d addr=%s}", c.Channel, c.Type, c.Addr)
}
