package knxnetip

import (
	"encoding/binary"
	"fmt"
)

// ServiceType identifies the body carried by a Frame. Values outside
// this closed set are dropped by the dispatcher with a trace.
type ServiceType uint16

// Service type values, KNXnet/IP Core/Device-Management/Tunnelling/
// Routing families.
const (
	SearchRequest           ServiceType = 0x0201
	SearchResponse          ServiceType = 0x0202
	DescriptionRequest      ServiceType = 0x0203
	DescriptionResponse     ServiceType = 0x0204
	ConnectRequest          ServiceType = 0x0205
	ConnectResponse         ServiceType = 0x0206
	ConnectionStateRequest  ServiceType = 0x0207
	ConnectionStateResponse ServiceType = 0x0208
	DisconnectRequest       ServiceType = 0x0209
	DisconnectResponse      ServiceType = 0x020A
	ConfigurationRequest    ServiceType = 0x0310
	ConfigurationAck        ServiceType = 0x0311
	TunnelRequest           ServiceType = 0x0420
	TunnelResponse          ServiceType = 0x0421
	RoutingIndication       ServiceType = 0x0530
)

// String implements fmt.Stringer for trace logging.
func (s ServiceType) String() string {
	switch s {
	case SearchRequest:
		return "SEARCH_REQUEST"
	case SearchResponse:
		return "SEARCH_RESPONSE"
	case DescriptionRequest:
		return "DESCRIPTION_REQUEST"
	case DescriptionResponse:
		return "DESCRIPTION_RESPONSE"
	case ConnectRequest:
		return "CONNECTION_REQUEST"
	case ConnectResponse:
		return "CONNECTION_RESPONSE"
	case ConnectionStateRequest:
		return "CONNECTIONSTATE_REQUEST"
	case ConnectionStateResponse:
		return "CONNECTIONSTATE_RESPONSE"
	case DisconnectRequest:
		return "DISCONNECT_REQUEST"
	case DisconnectResponse:
		return "DISCONNECT_RESPONSE"
	case ConfigurationRequest:
		return "DEVICE_CONFIGURATION_REQUEST"
	case ConfigurationAck:
		return "DEVICE_CONFIGURATION_ACK"
	case TunnelRequest:
		return "TUNNELING_REQUEST"
	case TunnelResponse:
		return "TUNNELING_ACK"
	case RoutingIndication:
		return "ROUTING_INDICATION"
	default:
		return fmt.Sprintf("UNKNOWN(0x%04X)", uint16(s))
	}
}

// knownService reports whether s is one of the fifteen service types
// the dispatcher understands.
func knownService(s ServiceType) bool {
	switch s {
	case SearchRequest, SearchResponse, DescriptionRequest, DescriptionResponse,
		ConnectRequest, ConnectResponse, ConnectionStateRequest, ConnectionStateResponse,
		DisconnectRequest, DisconnectResponse, ConfigurationRequest, ConfigurationAck,
		TunnelRequest, TunnelResponse, RoutingIndication:
		return true
	default:
		return false
	}
}

// Status codes carried in CONNECTION_RESPONSE / *_ACK bodies.
const (
	StatusNoError             byte = 0x00
	StatusHostProtocolType    byte = 0x01
	StatusVersionNotSupported byte = 0x02
	StatusSequenceNumber      byte = 0x04
	StatusConnectionID        byte = 0x21
	StatusConnectionType      byte = 0x22
	StatusNoMoreConnections   byte = 0x24
	StatusDataConnection      byte = 0x26
	StatusTunnelingLayer      byte = 0x29
)

const (
	headerSize  = 6
	headerMagic = 0x06
	protocolVer = 0x10
)

// Header is the 6-byte KNXnet/IP common header.
type Header struct {
	Service     ServiceType
	TotalLength uint16
}

// EncodeHeader encodes a header for a frame whose total length
// (header inclusive) is totalLength.
func EncodeHeader(service ServiceType, totalLength uint16) []byte {
	buf := make([]byte, headerSize)
	buf[0] = headerMagic
	buf[1] = protocolVer
	binary.BigEndian.PutUint16(buf[2:4], uint16(service))
	binary.BigEndian.PutUint16(buf[4:6], totalLength)
	return buf
}

// DecodeHeader parses the common header from buf and validates that
// its declared total length matches len(buf).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("%w: header too short (%d bytes)", ErrMalformedFrame, len(buf))
	}
	if buf[0] != headerMagic || buf[1] != protocolVer {
		return Header{}, fmt.Errorf("%w: bad header magic %02X%02X", ErrMalformedFrame, buf[0], buf[1])
	}
	h := Header{
		Service:     ServiceType(binary.BigEndian.Uint16(buf[2:4])),
		TotalLength: binary.BigEndian.Uint16(buf[4:6]),
	}
	if int(h.TotalLength) != len(buf) {
		return Header{}, fmt.Errorf("%w: length field %d disagrees with buffer (%d)", ErrMalformedFrame, h.TotalLength, len(buf))
	}
	return h, nil
}

// Frame is a fully decoded common header plus its raw body bytes.
type Frame struct {
	Header Header
	Body   []byte
}

// DecodeFrame splits a raw UDP datagram into its header and body,
// rejecting anything that fails header validation. Maximum datagram
// size is 255 bytes per the protocol; a frame whose declared length
// disagrees with what was actually read (including OS-level
// truncation of an oversize datagram) is caught by DecodeHeader's
// length check.
func DecodeFrame(buf []byte) (Frame, error) {
	h, err := DecodeHeader(buf)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, Body: buf[headerSize:]}, nil
}

// EncodeFrame assembles a complete datagram from a service type and
// an already-encoded body.
func EncodeFrame(service ServiceType, body []byte) []byte {
	total := headerSize + len(body)
	buf := EncodeHeader(service, uint16(total)) //nolint:gosec // bounded by 255-byte datagram cap
	return append(buf, body...)
}
