package knxnetip

import "errors"

// Domain errors for the knxnetip package. Each maps onto one entry of
// the error taxonomy in the gateway specification.
var (
	// ErrMalformedFrame is returned when a frame fails structural
	// validation: a bad magic, a length mismatch, a bad HPAI length/
	// protocol byte, or a wrong fixed-offset constant.
	ErrMalformedFrame = errors.New("knxnetip: malformed frame")

	// ErrUnknownService is returned when a frame carries a service
	// type outside the closed enumeration.
	ErrUnknownService = errors.New("knxnetip: unknown service type")

	// ErrUnknownChannel is returned when session traffic names a
	// channel with no live connection.
	ErrUnknownChannel = errors.New("knxnetip: unknown channel")

	// ErrSequenceMismatch is returned when an inbound sequence number
	// is outside the accept/duplicate window.
	ErrSequenceMismatch = errors.New("knxnetip: sequence number mismatch")

	// ErrResourceExhausted is returned when no channel id or no bus
	// address is available.
	ErrResourceExhausted = errors.New("knxnetip: resource exhausted")

	// ErrRetryExhausted is returned when an outbound frame was not
	// acknowledged within its retry budget.
	ErrRetryExhausted = errors.New("knxnetip: retry budget exhausted")

	// ErrHeartbeatExpired is returned when a connection's liveness
	// deadline passed with no traffic.
	ErrHeartbeatExpired = errors.New("knxnetip: heartbeat expired")

	// ErrEndpointFailed is returned when a UDP endpoint cannot be
	// opened or configured (listen, multicast join, socket options).
	// Repeated socket errors at run time are reported by
	// Endpoint.Failed, not as this error.
	ErrEndpointFailed = errors.New("knxnetip: endpoint failed")

	// ErrNotLive is returned when an operation is attempted on a
	// connection that has already moved to Stopping.
	ErrNotLive = errors.New("knxnetip: connection not live")

	// ErrSourceUnresolved is returned when the source-IP helper could
	// not determine a local address to populate an HPAI with.
	ErrSourceUnresolved = errors.New("knxnetip: could not resolve source address")

	// ErrServerMisconfigured is returned by Config.Validate (and so by
	// NewServer) when none of discover/tunnel/route is requested, tunnel
	// is requested without a bus router, or route is requested without
	// a multicast group.
	ErrServerMisconfigured = errors.New("knxnetip: server misconfigured")
)
