package knxnetip

import (
	"context"
	"fmt"
	"net"
)

// defaultConnectProbeTarget is dialed (UDP, never actually sends a
// packet) purely to ask the kernel which local address/interface it
// would use to reach the outside world — the "connect and look at
// LocalAddr" trick, applied to source-IP resolution for HPAI
// population (see SPEC_FULL.md's sourceip module).
const defaultConnectProbeTarget = "[2001:4860:4860::8888]:53"

// SourceResolver determines the local address the gateway should
// advertise in HPAI structures: either a configured hostname (looked
// up on each Resolve call) or, absent one, the address the kernel
// picks for a routed connection.
type SourceResolver struct {
	probeTarget string
}

// NewSourceResolver constructs a resolver. An empty probeTarget uses
// the built-in default.
func NewSourceResolver(probeTarget string) *SourceResolver {
	if probeTarget == "" {
		probeTarget = defaultConnectProbeTarget
	}
	return &SourceResolver{probeTarget: probeTarget}
}

// ResolveHostname resolves a configured hostname/literal address to an
// IP, failing with ErrSourceUnresolved on any lookup error or empty
// result.
func (r *SourceResolver) ResolveHostname(ctx context.Context, host string) (net.IP, error) {
	var resolver net.Resolver
	ips, err := resolver.LookupIP(ctx, "ip6", host)
	if err != nil || len(ips) == 0 {
		ips, err = resolver.LookupIP(ctx, "ip", host)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup %q: %v", ErrSourceUnresolved, host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %q resolved to no addresses", ErrSourceUnresolved, host)
	}
	return ips[0], nil
}

// ResolveLocal determines the local address the kernel would use to
// reach the outside world, by opening (and immediately discarding) a
// connected UDP socket. No packet is sent; DialContext with "udp"
// merely consults the routing table.
func (r *SourceResolver) ResolveLocal(ctx context.Context) (net.IP, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", r.probeTarget)
	if err != nil {
		return nil, fmt.Errorf("%w: connect probe: %v", ErrSourceUnresolved, err)
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || local.IP == nil {
		return nil, fmt.Errorf("%w: connect probe returned no local address", ErrSourceUnresolved)
	}
	return local.IP, nil
}

// Resolve returns the configured hostname's address if set, otherwise
// the connect-probe's local address.
func (r *SourceResolver) Resolve(ctx context.Context, configuredHost string) (net.IP, error) {
	if configuredHost != "" {
		return r.ResolveHostname(ctx, configuredHost)
	}
	return r.ResolveLocal(ctx)
}
