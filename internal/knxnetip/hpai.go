package knxnetip

import (
	"encoding/binary"
	"fmt"
	"net"
)

// HPAI protocol id constant: UDP over IPv4/IPv6.
const hpaiProtocolUDP = 0x01

// HPAI sizes: 8 bytes for the canonical IPv4 structure, 20 for the
// IPv6 variant the gateway's IPv6-native transport actually uses.
const (
	hpaiSizeV4 = 8
	hpaiSizeV6 = 20
)

// HPAI (Host Protocol Address Info) carries an endpoint address and
// port. An all-zero address with a nonzero port signals NAT: the
// receiver must substitute the datagram's actual source address (and,
// if the port is also zero, the source port).
type HPAI struct {
	IP   net.IP
	Port uint16

	// natApplied is set by DecodeHPAI when the wire value declared a
	// zero address/port and was substituted from the datagram's actual
	// source; it is not present in the wire format itself.
	natApplied bool
}

// NAT reports whether hp was decoded from a NAT-declaring (zero
// address) wire value. Always false for a value built in code rather
// than decoded.
func (hp HPAI) NAT() bool {
	return hp.natApplied
}

// Encode writes hp in network byte order. The IPv6 variant is length
// 20 (length-byte, protocol-byte, 16 address bytes, 2 port bytes); the
// IPv4 variant is length 8. A zero IP (NAT signalling) is emitted as
// all-zero address bytes, never byte-reversed — the source code this
// gateway descends from reversed IPv6 address bytes when encoding
// HPAI; that is not reproduced here (see DESIGN.md).
func (hp HPAI) Encode() []byte {
	v4 := hp.IP != nil && hp.IP.To4() != nil
	if v4 {
		buf := make([]byte, hpaiSizeV4)
		buf[0] = hpaiSizeV4
		buf[1] = hpaiProtocolUDP
		if ip4 := hp.IP.To4(); ip4 != nil {
			copy(buf[2:6], ip4)
		}
		binary.BigEndian.PutUint16(buf[6:8], hp.Port)
		return buf
	}

	buf := make([]byte, hpaiSizeV6)
	buf[0] = hpaiSizeV6
	buf[1] = hpaiProtocolUDP
	if hp.IP != nil {
		if ip16 := hp.IP.To16(); ip16 != nil {
			copy(buf[2:18], ip16)
		}
	}
	binary.BigEndian.PutUint16(buf[18:20], hp.Port)
	return buf
}

// DecodeHPAI parses an HPAI structure from the front of buf, returning
// the parsed value and the number of bytes consumed. src is the
// datagram's actual source address, substituted in for NAT (all-zero
// address) per spec: a zero port also triggers port substitution.
func DecodeHPAI(buf []byte, src *net.UDPAddr) (HPAI, int, error) {
	if len(buf) < 2 {
		return HPAI{}, 0, fmt.Errorf("%w: HPAI too short", ErrMalformedFrame)
	}
	length := int(buf[0])
	protocol := buf[1]
	if protocol != hpaiProtocolUDP {
		return HPAI{}, 0, fmt.Errorf("%w: unexpected HPAI protocol 0x%02X", ErrMalformedFrame, protocol)
	}

	switch length {
	case hpaiSizeV4:
		if len(buf) < hpaiSizeV4 {
			return HPAI{}, 0, fmt.Errorf("%w: HPAI v4 truncated", ErrMalformedFrame)
		}
		hp := HPAI{
			IP:   net.IP(append([]byte(nil), buf[2:6]...)),
			Port: binary.BigEndian.Uint16(buf[6:8]),
		}
		applyNAT(&hp, src)
		return hp, hpaiSizeV4, nil

	case hpaiSizeV6:
		if len(buf) < hpaiSizeV6 {
			return HPAI{}, 0, fmt.Errorf("%w: HPAI v6 truncated", ErrMalformedFrame)
		}
		hp := HPAI{
			IP:   net.IP(append([]byte(nil), buf[2:18]...)),
			Port: binary.BigEndian.Uint16(buf[18:20]),
		}
		applyNAT(&hp, src)
		return hp, hpaiSizeV6, nil

	default:
		return HPAI{}, 0, fmt.Errorf("%w: bad HPAI length %d", ErrMalformedFrame, length)
	}
}

// applyNAT substitutes src's address/port into hp wherever hp declared
// zero, per the NAT rule in spec.md §4.A/§8.
func applyNAT(hp *HPAI, src *net.UDPAddr) {
	if src == nil {
		return
	}
	if hp.IP == nil || hp.IP.IsUnspecified() {
		hp.IP = src.IP
		hp.natApplied = true
	}
	if hp.Port == 0 {
		hp.Port = uint16(src.Port) //nolint:gosec // UDP ports fit in uint16
		hp.natApplied = true
	}
}

// UDPAddr converts hp to a *net.UDPAddr for use by the endpoint.
func (hp HPAI) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: hp.IP, Port: int(hp.Port)}
}

// HPAIFromUDPAddr builds an HPAI describing addr.
func HPAIFromUDPAddr(addr *net.UDPAddr) HPAI {
	if addr == nil {
		return HPAI{}
	}
	return HPAI{IP: addr.IP, Port: uint16(addr.Port)} //nolint:gosec // UDP ports fit in uint16
}
