package knxnetip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-core/internal/bus"
	"github.com/nerrad567/gray-logic-core/internal/cemi"
	"github.com/nerrad567/gray-logic-core/internal/infrastructure/logging"
)

// macCacheTTL bounds how often the discovery responder re-reads the
// host's interface list for its advertised MAC address (§4.E: "cached;
// refresh at most once per second").
const macCacheTTL = 1 * time.Second

// Config is the Server's startup configuration, populated from
// config.KNXIPConfig by the caller (cmd/graylogic).
type Config struct {
	Tunnel   bool
	Route    bool
	Discover bool

	Name   string
	Medium byte

	Bind           *net.UDPAddr
	MulticastGroup *net.UDPAddr
	Interface      *net.Interface

	// MultiPort selects dual-socket routing (§6's multi-port=true): a
	// second Endpoint bound to the multicast group, separate from the
	// unicast control/tunnelling socket. When false (the default),
	// routing traffic is received on the same socket as everything
	// else, which that socket joins to the multicast group directly.
	MultiPort bool
}

// Validate implements the Setup checks of §4.E: at least one of
// tunnel/route/discover must be requested, and tunnel requires a
// router capable of allocating addresses.
func (c Config) Validate(router bus.Router) error {
	if !c.Tunnel && !c.Route && !c.Discover {
		return fmt.Errorf("%w: none of tunnel/route/discover requested", ErrServerMisconfigured)
	}
	if c.Tunnel && router == nil {
		return fmt.Errorf("%w: tunnel requested but no bus router supplied", ErrServerMisconfigured)
	}
	if c.Route && c.MulticastGroup == nil {
		return fmt.Errorf("%w: route requested but no multicast group configured", ErrServerMisconfigured)
	}
	return nil
}

// Server is the dispatcher of §4.E: one UDP endpoint, a channel table
// of live connections, and the drop queue that decouples
// connection-initiated teardown from table iteration.
type Server struct {
	cfg    Config
	router bus.Router
	log    *logging.Logger

	endpoint *Endpoint
	routing  *RoutingDriver

	mu          sync.Mutex
	conns       map[byte]*Connection
	nextChannel byte

	dropq chan dropRequest

	macMu      sync.Mutex
	mac        [6]byte
	macFetched time.Time

	cancel context.CancelFunc
}

type dropRequest struct {
	channel        byte
	sendDisconnect bool
}

// NewServer validates cfg and constructs a Server. It does not open
// any socket; call Start for that.
func NewServer(cfg Config, router bus.Router, log *logging.Logger) (*Server, error) {
	if err := cfg.Validate(router); err != nil {
		return nil, err
	}
	return &Server{
		cfg:         cfg,
		router:      router,
		log:         log,
		conns:       make(map[byte]*Connection),
		nextChannel: 1,
		dropq:       make(chan dropRequest, 16),
	}, nil
}

// Start opens the endpoint, joins multicast if routing is enabled,
// registers the routing driver, and begins dispatch. It returns once
// startup completes; ctx governs the server's lifetime — cancelling it
// (or calling the returned stop function) tears everything down.
func (s *Server) Start(ctx context.Context) (stop func(), err error) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ep, err := ListenUnicast(s.cfg.Bind, AcceptAll)
	if err != nil {
		cancel()
		return nil, err
	}
	s.endpoint = ep
	ep.Start(func(src *net.UDPAddr, buf []byte) {
		s.dispatch(ctx, src, buf)
	})

	if s.cfg.Route {
		if s.cfg.MultiPort {
			routeEP, err := ListenMulticast(s.cfg.MulticastGroup, s.cfg.Interface, AcceptNotSelf(ep.LocalAddr()))
			if err != nil {
				ep.Close()
				cancel()
				return nil, err
			}
			s.routing = NewRoutingDriver(routeEP, s.cfg.MulticastGroup, s.router)
			routeEP.Start(func(src *net.UDPAddr, buf []byte) {
				s.dispatch(ctx, src, buf)
			})
		} else {
			if err := ep.JoinMulticastGroup(s.cfg.MulticastGroup, s.cfg.Interface); err != nil {
				ep.Close()
				cancel()
				return nil, err
			}
			s.routing = NewRoutingDriver(ep, s.cfg.MulticastGroup, s.router)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.drainDropQueue(gctx)
	})

	stop = func() {
		cancel()
		_ = g.Wait()
		s.teardownAll()
		if s.routing != nil {
			s.routing.Close()
		}
		ep.Close()
	}
	return stop, nil
}

func (s *Server) drainDropQueue(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.dropq:
			s.dropConnection(req.channel, req.sendDisconnect)
		}
	}
}

// --- ConnHost implementation -------------------------------------------------

func (s *Server) SendSession(c *Connection, service ServiceType, body []byte) error {
	s.endpoint.Send(c.DAddr, EncodeFrame(service, body))
	return nil
}

func (s *Server) SendControl(c *Connection, service ServiceType, body []byte) error {
	dst := c.CAddr
	if dst == nil {
		dst = c.DAddr
	}
	s.endpoint.Send(dst, EncodeFrame(service, body))
	return nil
}

func (s *Server) Deliver(ctx context.Context, f cemi.LData) error {
	return s.router.Deliver(ctx, f)
}

func (s *Server) ScheduleDrop(channel byte, sendDisconnect bool) {
	select {
	case s.dropq <- dropRequest{channel: channel, sendDisconnect: sendDisconnect}:
	default:
		s.log.Warn("drop queue full, dropping synchronously", "channel", channel)
		s.dropConnection(channel, sendDisconnect)
	}
}

func (s *Server) Trace(format string, args ...any) {
	s.log.Debug(fmt.Sprintf(format, args...))
}

// --- dispatch ----------------------------------------------------------------

func (s *Server) dispatch(ctx context.Context, src *net.UDPAddr, buf []byte) {
	frame, err := DecodeFrame(buf)
	if err != nil {
		s.Trace("dropping malformed datagram from %s: %v", src, err)
		return
	}

	switch frame.Header.Service {
	case SearchRequest:
		s.handleSearchRequest(src, frame.Body)
	case DescriptionRequest:
		s.handleDescriptionRequest(src, frame.Body)
	case ConnectRequest:
		s.handleConnectRequest(ctx, src, frame.Body)
	case ConnectionStateRequest:
		s.handleConnectionStateRequest(frame.Body, src)
	case DisconnectRequest:
		s.handleDisconnectRequest(frame.Body, src)
	case TunnelRequest, ConfigurationRequest:
		s.handleSessionRequest(ctx, frame.Body)
	case TunnelResponse, ConfigurationAck:
		s.handleSessionAck(frame.Body)
	case RoutingIndication:
		s.dispatchRouting(ctx, frame.Body)
	default:
		s.Trace("unexpected service %v from %s", frame.Header.Service, src)
	}
}

func (s *Server) dispatchRouting(ctx context.Context, body []byte) {
	if s.routing == nil {
		return
	}
	if err := s.routing.HandleRoutingIndication(ctx, body); err != nil {
		s.Trace("routing indication rejected: %v", err)
	}
}

func (s *Server) handleSearchRequest(src *net.UDPAddr, body []byte) {
	if !s.cfg.Discover {
		return
	}
	req, err := DecodeSearchRequest(body, src)
	if err != nil {
		s.Trace("malformed SEARCH_REQUEST from %s: %v", src, err)
		return
	}
	resp := SearchResponseBody{
		Control:  HPAIFromUDPAddr(s.endpoint.LocalAddr()),
		Device:   s.deviceInfoDIB(),
		Families: s.supportedFamiliesDIB(),
	}
	s.endpoint.Send(req.Discovery.UDPAddr(), EncodeFrame(SearchResponse, resp.Encode()))
}

func (s *Server) handleDescriptionRequest(src *net.UDPAddr, body []byte) {
	if !s.cfg.Discover {
		return
	}
	req, err := DecodeDescriptionRequest(body, src)
	if err != nil {
		s.Trace("malformed DESCRIPTION_REQUEST from %s: %v", src, err)
		return
	}
	resp := DescriptionResponseBody{
		Device:   s.deviceInfoDIB(),
		Families: s.supportedFamiliesDIB(),
	}
	s.endpoint.Send(req.Control.UDPAddr(), EncodeFrame(DescriptionResponse, resp.Encode()))
}

func (s *Server) supportedFamiliesDIB() SupportedFamiliesDIB {
	families := []ServiceFamily{FamilyCore}
	if s.cfg.Tunnel {
		families = append(families, FamilyDeviceMgmt, FamilyTunnelling)
	}
	if s.cfg.Route {
		families = append(families, FamilyRouting)
	}
	return SupportedFamiliesDIB{Families: families}
}

func (s *Server) deviceInfoDIB() DeviceInfoDIB {
	d := DeviceInfoDIB{
		Medium: s.cfg.Medium,
		Name:   s.cfg.Name,
		MAC:    s.discoveryMAC(),
	}
	if s.cfg.MulticastGroup != nil {
		copy(d.MulticastAddr[:], s.cfg.MulticastGroup.IP.To16())
	}
	return d
}

// discoveryMAC returns the first non-loopback interface MAC, cached
// for up to macCacheTTL.
func (s *Server) discoveryMAC() [6]byte {
	s.macMu.Lock()
	defer s.macMu.Unlock()

	if time.Since(s.macFetched) < macCacheTTL {
		return s.mac
	}
	s.macFetched = time.Now()

	ifaces, err := net.Interfaces()
	if err != nil {
		return s.mac
	}
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(ifc.HardwareAddr) == 6 {
			copy(s.mac[:], ifc.HardwareAddr)
			break
		}
	}
	return s.mac
}

func (s *Server) handleConnectRequest(ctx context.Context, src *net.UDPAddr, body []byte) {
	req, err := DecodeConnectRequest(body, src)
	if err != nil {
		s.Trace("malformed CONNECTION_REQUEST from %s: %v", src, err)
		return
	}

	var (
		addr cemi.Address
		ch   byte
	)
	if req.Type != ConfigConnection {
		addr, err = s.router.AllocateAddress(ctx)
		if err != nil {
			s.replyConnectError(req, StatusNoMoreConnections)
			return
		}
	}

	ch, ok := s.allocateChannel()
	if !ok {
		if req.Type != ConfigConnection {
			s.router.ReleaseAddress(addr)
		}
		s.replyConnectError(req, StatusNoMoreConnections)
		return
	}

	daddr := req.Data.UDPAddr()
	caddr := req.Control.UDPAddr()
	conn := NewConnection(s, ch, req.Type, addr, daddr, caddr, req.Data.NAT() || req.Control.NAT())

	s.mu.Lock()
	s.conns[ch] = conn
	s.mu.Unlock()

	s.registerConnection(conn)

	resp := ConnectResponseBody{
		Channel: ch,
		Status:  StatusNoError,
		Data:    HPAIFromUDPAddr(s.endpoint.LocalAddr()),
		Type:    req.Type,
		Addr:    uint16(addr),
	}
	s.endpoint.Send(caddr, EncodeFrame(ConnectResponse, resp.Encode()))
}

func (s *Server) replyConnectError(req ConnectRequestBody, status byte) {
	resp := ConnectResponseBody{Status: status}
	s.endpoint.Send(req.Control.UDPAddr(), EncodeFrame(ConnectResponse, resp.Encode()))
}

func (s *Server) registerConnection(conn *Connection) {
	switch conn.Type {
	case TunnelStandard:
		conn.linkDeregister = s.router.RegisterLink(conn)
	case TunnelBusmonitor:
		conn.monitorDeregister = s.router.RegisterBusmonitor(conn)
	case ConfigConnection:
		// no router registration: config connections are answered
		// entirely by the object-server stub.
	}
}

// allocateChannel finds the lowest unused channel id in [1,255].
func (s *Server) allocateChannel() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := 1; ch <= 255; ch++ {
		if _, used := s.conns[byte(ch)]; !used {
			return byte(ch), true
		}
	}
	return 0, false
}

func (s *Server) handleConnectionStateRequest(body []byte, src *net.UDPAddr) {
	req, err := DecodeConnectionStateRequest(body, src)
	if err != nil {
		s.Trace("malformed CONNECTIONSTATE_REQUEST from %s: %v", src, err)
		return
	}
	conn := s.lookup(req.Channel)
	status := StatusConnectionID
	if conn != nil {
		status = conn.HandleConnectionStateRequest()
	}
	resp := ConnectionStateResponseBody{Channel: req.Channel, Status: status}
	s.endpoint.Send(req.Control.UDPAddr(), EncodeFrame(ConnectionStateResponse, resp.Encode()))
}

func (s *Server) handleDisconnectRequest(body []byte, src *net.UDPAddr) {
	req, err := DecodeDisconnectRequest(body, src)
	if err != nil {
		s.Trace("malformed DISCONNECT_REQUEST from %s: %v", src, err)
		return
	}
	status := StatusConnectionID
	if s.lookup(req.Channel) != nil {
		s.dropConnection(req.Channel, false)
		status = StatusNoError
	}
	resp := DisconnectResponseBody{Channel: req.Channel, Status: status}
	s.endpoint.Send(req.Control.UDPAddr(), EncodeFrame(DisconnectResponse, resp.Encode()))
}

func (s *Server) handleSessionRequest(ctx context.Context, body []byte) {
	req, err := DecodeSessionRequest(body)
	if err != nil {
		s.Trace("malformed session request: %v", err)
		return
	}
	conn := s.lookup(req.Channel)
	if conn == nil {
		s.Trace("session request for unknown channel %d", req.Channel)
		return
	}
	conn.HandleSessionRequest(ctx, req.Seq, req.CEMI)
}

func (s *Server) handleSessionAck(body []byte) {
	ack, err := DecodeSessionAck(body)
	if err != nil {
		s.Trace("malformed session ack: %v", err)
		return
	}
	conn := s.lookup(ack.Channel)
	if conn == nil {
		s.Trace("session ack for unknown channel %d", ack.Channel)
		return
	}
	conn.HandleSessionAck(ack.Seq, ack.Status)
}

func (s *Server) lookup(channel byte) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[channel]
}

func (s *Server) dropConnection(channel byte, sendDisconnect bool) {
	s.mu.Lock()
	conn, ok := s.conns[channel]
	if ok {
		delete(s.conns, channel)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	conn.Stop(sendDisconnect)
	if conn.linkDeregister != nil {
		conn.linkDeregister()
	}
	if conn.monitorDeregister != nil {
		conn.monitorDeregister()
	}
	if conn.Type != ConfigConnection {
		s.router.ReleaseAddress(conn.Addr)
	}
}

// LocalAddr returns the main endpoint's bound address. Valid only
// after Start has returned successfully.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.endpoint.LocalAddr()
}

// teardownAll stops every connection in descending channel order
// (highest channel id first). Channels are reused lowest-first, so this
// is not strictly newest-first once a channel has been reused.
func (s *Server) teardownAll() {
	s.mu.Lock()
	channels := make([]byte, 0, len(s.conns))
	for ch := 255; ch >= 1; ch-- {
		if _, ok := s.conns[byte(ch)]; ok {
			channels = append(channels, byte(ch))
		}
	}
	s.mu.Unlock()

	for _, ch := range channels {
		s.dropConnection(ch, true)
	}
}
