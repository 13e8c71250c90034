package knxnetip

import (
	"fmt"
	"net"
)

// ConnectionType distinguishes the three kinds of session a
// CONNECTION_REQUEST can open.
type ConnectionType int

// Connection types.
const (
	TunnelStandard ConnectionType = iota
	TunnelBusmonitor
	ConfigConnection
)

// TunnelLayer values carried in CRI for tunnel connections.
const (
	tunnelLayerStandard   = 0x02
	tunnelLayerBusmonitor = 0x80
)

// criTunnelLength/criConfigLength are the fixed CRI byte counts for
// each connection type.
const (
	criTunnelLength = 3
	criConfigLength = 1
	criStructLen    = 0x04 // structure-length byte for tunnel CRI/CRD
)

// ConnectRequestBody is the CONNECTION_REQUEST body: control and data
// HPAIs plus the Connection Request Information.
type ConnectRequestBody struct {
	Control HPAI
	Data    HPAI
	Type    ConnectionType
}

// Encode assembles a CONNECTION_REQUEST body.
func (b ConnectRequestBody) Encode() []byte {
	buf := b.Control.Encode()
	buf = append(buf, b.Data.Encode()...)
	switch b.Type {
	case TunnelStandard:
		buf = append(buf, criStructLen, tunnelLayerStandard, 0x00)
	case TunnelBusmonitor:
		buf = append(buf, criStructLen, tunnelLayerBusmonitor, 0x00)
	case ConfigConnection:
		buf = append(buf, 0x03)
	}
	return buf
}

// DecodeConnectRequest parses a CONNECTION_REQUEST body.
func DecodeConnectRequest(buf []byte, src *net.UDPAddr) (ConnectRequestBody, error) {
	control, n, err := DecodeHPAI(buf, src)
	if err != nil {
		return ConnectRequestBody{}, fmt.Errorf("CONNECTION_REQUEST: control %w", err)
	}
	data, n2, err := DecodeHPAI(buf[n:], src)
	if err != nil {
		return ConnectRequestBody{}, fmt.Errorf("CONNECTION_REQUEST: data %w", err)
	}
	cri := buf[n+n2:]
	ct, err := decodeCRI(cri)
	if err != nil {
		return ConnectRequestBody{}, err
	}
	return ConnectRequestBody{Control: control, Data: data, Type: ct}, nil
}

// decodeCRI parses the Connection Request Information trailer.
// CRI = [0x04, layer, 0x00] for tunnel, [0x03] for config.
func decodeCRI(cri []byte) (ConnectionType, error) {
	if len(cri) == 0 {
		return 0, fmt.Errorf("%w: CONNECTION_REQUEST missing CRI", ErrMalformedFrame)
	}
	switch cri[0] {
	case criStructLen:
		if len(cri) != criTunnelLength {
			return 0, fmt.Errorf("%w: tunnel CRI wrong length %d", ErrMalformedFrame, len(cri))
		}
		switch cri[1] {
		case tunnelLayerStandard:
			return TunnelStandard, nil
		case tunnelLayerBusmonitor:
			return TunnelBusmonitor, nil
		default:
			return 0, fmt.Errorf("%w: unknown tunnel layer 0x%02X", ErrMalformedFrame, cri[1])
		}
	case 0x03:
		if len(cri) != criConfigLength {
			return 0, fmt.Errorf("%w: config CRI wrong length %d", ErrMalformedFrame, len(cri))
		}
		return ConfigConnection, nil
	default:
		return 0, fmt.Errorf("%w: unknown CRI structure length 0x%02X", ErrMalformedFrame, cri[0])
	}
}

// ConnectResponseBody is the CONNECTION_RESPONSE body.
type ConnectResponseBody struct {
	Channel byte
	Status  byte
	Data    HPAI // present only on success; zero value otherwise
	Type    ConnectionType
	Addr    uint16 // allocated individual address (tunnel only)
}

// Encode assembles a CONNECTION_RESPONSE body. On error (Status !=
// StatusNoError) only channel and status are present.
func (b ConnectResponseBody) Encode() []byte {
	buf := []byte{b.Channel, b.Status}
	if b.Status != StatusNoError {
		return buf
	}
	buf = append(buf, b.Data.Encode()...)
	switch b.Type {
	case ConfigConnection:
		buf = append(buf, 0x03)
	default:
		addr := make([]byte, 2)
		addr[0] = byte(b.Addr >> 8)
		addr[1] = byte(b.Addr)
		buf = append(buf, criStructLen)
		buf = append(buf, addr...)
	}
	return buf
}

// DecodeConnectResponse parses a CONNECTION_RESPONSE body.
func DecodeConnectResponse(buf []byte) (ConnectResponseBody, error) {
	if len(buf) < 2 {
		return ConnectResponseBody{}, fmt.Errorf("%w: CONNECTION_RESPONSE too short", ErrMalformedFrame)
	}
	resp := ConnectResponseBody{Channel: buf[0], Status: buf[1]}
	if resp.Status != StatusNoError {
		return resp, nil
	}
	data, n, err := DecodeHPAI(buf[2:], nil)
	if err != nil {
		return ConnectResponseBody{}, fmt.Errorf("CONNECTION_RESPONSE: %w", err)
	}
	resp.Data = data
	crd := buf[2+n:]
	if len(crd) == 0 {
		return ConnectResponseBody{}, fmt.Errorf("%w: CONNECTION_RESPONSE missing CRD", ErrMalformedFrame)
	}
	if crd[0] == 0x03 {
		resp.Type = ConfigConnection
		return resp, nil
	}
	if crd[0] != criStructLen || len(crd) != criTunnelLength {
		return ConnectResponseBody{}, fmt.Errorf("%w: bad tunnel CRD", ErrMalformedFrame)
	}
	resp.Addr = uint16(crd[1])<<8 | uint16(crd[2])
	return resp, nil
}

// ConnectionStateRequestBody identifies the channel being polled and
// where the reply should go.
type ConnectionStateRequestBody struct {
	Channel byte
	Control HPAI
}

// Encode assembles a CONNECTIONSTATE_REQUEST body.
func (b ConnectionStateRequestBody) Encode() []byte {
	buf := []byte{b.Channel, 0x00}
	return append(buf, b.Control.Encode()...)
}

// DecodeConnectionStateRequest parses a CONNECTIONSTATE_REQUEST body.
func DecodeConnectionStateRequest(buf []byte, src *net.UDPAddr) (ConnectionStateRequestBody, error) {
	if len(buf) < 2 {
		return ConnectionStateRequestBody{}, fmt.Errorf("%w: CONNECTIONSTATE_REQUEST too short", ErrMalformedFrame)
	}
	hp, _, err := DecodeHPAI(buf[2:], src)
	if err != nil {
		return ConnectionStateRequestBody{}, fmt.Errorf("CONNECTIONSTATE_REQUEST: %w", err)
	}
	return ConnectionStateRequestBody{Channel: buf[0], Control: hp}, nil
}

// ConnectionStateResponseBody is the reply to CONNECTIONSTATE_REQUEST.
type ConnectionStateResponseBody struct {
	Channel byte
	Status  byte
}

// Encode assembles a CONNECTIONSTATE_RESPONSE body.
func (b ConnectionStateResponseBody) Encode() []byte {
	return []byte{b.Channel, b.Status}
}

// DecodeConnectionStateResponse parses a CONNECTIONSTATE_RESPONSE body.
func DecodeConnectionStateResponse(buf []byte) (ConnectionStateResponseBody, error) {
	if len(buf) != 2 {
		return ConnectionStateResponseBody{}, fmt.Errorf("%w: CONNECTIONSTATE_RESPONSE wrong length", ErrMalformedFrame)
	}
	return ConnectionStateResponseBody{Channel: buf[0], Status: buf[1]}, nil
}

// DisconnectRequestBody identifies the channel to tear down and where
// to reply.
type DisconnectRequestBody struct {
	Channel byte
	Control HPAI
}

// Encode assembles a DISCONNECT_REQUEST body.
func (b DisconnectRequestBody) Encode() []byte {
	buf := []byte{b.Channel, 0x00}
	return append(buf, b.Control.Encode()...)
}

// DecodeDisconnectRequest parses a DISCONNECT_REQUEST body.
func DecodeDisconnectRequest(buf []byte, src *net.UDPAddr) (DisconnectRequestBody, error) {
	if len(buf) < 2 {
		return DisconnectRequestBody{}, fmt.Errorf("%w: DISCONNECT_REQUEST too short", ErrMalformedFrame)
	}
	hp, _, err := DecodeHPAI(buf[2:], src)
	if err != nil {
		return DisconnectRequestBody{}, fmt.Errorf("DISCONNECT_REQUEST: %w", err)
	}
	return DisconnectRequestBody{Channel: buf[0], Control: hp}, nil
}

// DisconnectResponseBody is the reply to DISCONNECT_REQUEST.
type DisconnectResponseBody struct {
	Channel byte
	Status  byte
}

// Encode assembles a DISCONNECT_RESPONSE body.
func (b DisconnectResponseBody) Encode() []byte {
	return []byte{b.Channel, b.Status}
}

// DecodeDisconnectResponse parses a DISCONNECT_RESPONSE body.
func DecodeDisconnectResponse(buf []byte) (DisconnectResponseBody, error) {
	if len(buf) != 2 {
		return DisconnectResponseBody{}, fmt.Errorf("%w: DISCONNECT_RESPONSE wrong length", ErrMalformedFrame)
	}
	return DisconnectResponseBody{Channel: buf[0], Status: buf[1]}, nil
}
