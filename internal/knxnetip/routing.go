package knxnetip

import (
	"context"
	"net"

	"github.com/nerrad567/gray-logic-core/internal/bus"
	"github.com/nerrad567/gray-logic-core/internal/cemi"
)

// RoutingDriver implements the ROUTING service of §4.C: it registers
// itself with the bus router as a Link, so every bus-originated
// L_Data.ind is re-broadcast as a ROUTING_INDICATION multicast, and it
// feeds inbound ROUTING_INDICATION datagrams straight to the router
// with no per-packet acknowledgement (routing is "fire and forget" —
// §4.C/§9.3).
type RoutingDriver struct {
	endpoint *Endpoint
	group    *net.UDPAddr
	router   bus.Router

	deregister func()
}

// NewRoutingDriver registers with router and starts relaying bus
// frames onto the multicast group reachable through endpoint.
func NewRoutingDriver(endpoint *Endpoint, group *net.UDPAddr, router bus.Router) *RoutingDriver {
	d := &RoutingDriver{endpoint: endpoint, group: group, router: router}
	d.deregister = router.RegisterLink(d)
	return d
}

// OnLinkFrame implements bus.Link: a bus-originated frame is
// re-encoded as CEMI and sent to the multicast group unchanged, with
// no session, no sequence number, and no acknowledgement.
func (d *RoutingDriver) OnLinkFrame(f cemi.LData) {
	payload := cemi.EncodeLData(cemi.LDataInd, f)
	body := RoutingIndicationBody{CEMI: payload}
	d.endpoint.Send(d.group, EncodeFrame(RoutingIndication, body.Encode()))
}

// HandleRoutingIndication decodes an inbound ROUTING_INDICATION and
// hands the enclosed frame to the bus router for delivery.
func (d *RoutingDriver) HandleRoutingIndication(ctx context.Context, body []byte) error {
	ri, err := DecodeRoutingIndication(body)
	if err != nil {
		return err
	}
	code, f, err := cemi.DecodeLData(ri.CEMI)
	if err != nil {
		return err
	}
	if code != cemi.LDataInd && code != cemi.LDataReq {
		return nil
	}
	return d.router.Deliver(ctx, f)
}

// Close deregisters the driver from the router. Idempotent.
func (d *RoutingDriver) Close() {
	if d.deregister != nil {
		d.deregister()
		d.deregister = nil
	}
}
