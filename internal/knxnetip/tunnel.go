package knxnetip

import "fmt"

// sessionHeaderLen is the fixed 4-byte header shared by
// TUNNELING_REQUEST and DEVICE_CONFIGURATION_REQUEST bodies:
// [structLen=0x04, channel, seq, reserved=0x00].
const sessionHeaderLen = 4
const sessionStructLen = 0x04

// SessionRequestBody is the shared body shape of TUNNELING_REQUEST and
// DEVICE_CONFIGURATION_REQUEST: a channel id, sequence number, and a
// CEMI payload.
type SessionRequestBody struct {
	Channel byte
	Seq     byte
	CEMI    []byte
}

// Encode assembles a TUNNELING_REQUEST / DEVICE_CONFIGURATION_REQUEST
// body.
func (b SessionRequestBody) Encode() []byte {
	buf := make([]byte, 0, sessionHeaderLen+len(b.CEMI))
	buf = append(buf, sessionStructLen, b.Channel, b.Seq, 0x00)
	return append(buf, b.CEMI...)
}

// DecodeSessionRequest parses a TUNNELING_REQUEST / DEVICE_CONFIGURATION_REQUEST
// body.
func DecodeSessionRequest(buf []byte) (SessionRequestBody, error) {
	if len(buf) < sessionHeaderLen {
		return SessionRequestBody{}, fmt.Errorf("%w: session request too short", ErrMalformedFrame)
	}
	if buf[0] != sessionStructLen {
		return SessionRequestBody{}, fmt.Errorf("%w: bad session request structure length 0x%02X", ErrMalformedFrame, buf[0])
	}
	return SessionRequestBody{
		Channel: buf[1],
		Seq:     buf[2],
		CEMI:    append([]byte(nil), buf[sessionHeaderLen:]...),
	}, nil
}

// SessionAckBody is the shared body shape of TUNNELING_ACK and
// DEVICE_CONFIGURATION_ACK.
type SessionAckBody struct {
	Channel byte
	Seq     byte
	Status  byte
}

// Encode assembles a TUNNELING_ACK / DEVICE_CONFIGURATION_ACK body.
func (b SessionAckBody) Encode() []byte {
	return []byte{sessionStructLen, b.Channel, b.Seq, b.Status}
}

// DecodeSessionAck parses a TUNNELING_ACK / DEVICE_CONFIGURATION_ACK
// body.
func DecodeSessionAck(buf []byte) (SessionAckBody, error) {
	if len(buf) != sessionHeaderLen {
		return SessionAckBody{}, fmt.Errorf("%w: session ack wrong length", ErrMalformedFrame)
	}
	if buf[0] != sessionStructLen {
		return SessionAckBody{}, fmt.Errorf("%w: bad session ack structure length 0x%02X", ErrMalformedFrame, buf[0])
	}
	return SessionAckBody{Channel: buf[1], Seq: buf[2], Status: buf[3]}, nil
}

// RoutingIndicationBody wraps a raw CEMI frame with no further
// KNXnet/IP framing.
type RoutingIndicationBody struct {
	CEMI []byte
}

// Encode returns the CEMI bytes unchanged.
func (b RoutingIndicationBody) Encode() []byte {
	return b.CEMI
}

// DecodeRoutingIndication parses a ROUTING_INDICATION body.
func DecodeRoutingIndication(buf []byte) (RoutingIndicationBody, error) {
	if len(buf) == 0 {
		return RoutingIndicationBody{}, fmt.Errorf("%w: empty ROUTING_INDICATION", ErrMalformedFrame)
	}
	return RoutingIndicationBody{CEMI: append([]byte(nil), buf...)}, nil
}
