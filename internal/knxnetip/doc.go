// Package knxnetip implements the core of a KNXnet/IP gateway server:
// the wire codec for the KNXnet/IP frame and its service bodies, the
// UDP endpoint, the routing driver, the per-client connection state
// machine, and the dispatcher that ties them together.
//
// The package does not implement a KNX bus itself. It depends on an
// external internal/bus.Router for address allocation and telegram
// delivery, and on internal/cemi for CEMI encoding/decoding.
package knxnetip
