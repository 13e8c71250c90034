// Package cemi implements the narrow slice of the Common External
// Message Interface that the KNXnet/IP gateway core needs: encoding
// and decoding L_Data frames and the trivial M_PropRead exchange used
// by configuration (object-server) connections.
//
// It is intentionally a pure function pair, not a stateful client —
// the gateway's bus router is responsible for everything the CEMI
// byte stream does not describe (filtering, routing tables, media
// drivers).
package cemi

import (
	"encoding/binary"
	"fmt"
)

// Message code ("leader") values consumed/emitted by the gateway.
const (
	LDataReq     byte = 0x11
	LDataInd     byte = 0x29
	LDataCon     byte = 0x2E
	LBusmonInd   byte = 0x2B
	MPropReadReq byte = 0xFC
	MPropReadCon byte = 0xFB
)

// Priority is the KNX transport priority carried in the control field.
type Priority byte

// Priority levels, carried in bits 2-3 of control field 1.
const (
	PrioritySystem Priority = 0x00
	PriorityAlarm  Priority = 0x01
	PriorityHigh   Priority = 0x02
	PriorityLow    Priority = 0x03
)

// Address is a 16-bit KNX individual or group address.
type Address uint16

// String renders an individual address as "area.line.device".
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d", (a>>12)&0x0F, (a>>8)&0x0F, a&0xFF)
}

// LData is the decoded form of an L_Data.* frame: source, destination,
// priority, and application payload.
type LData struct {
	Source      Address
	Destination Address
	GroupAddr   bool // true: Destination is a group address, false: individual
	Priority    Priority
	Data        []byte // TPCI/APCI + payload, as carried on the bus
}

// minLDataLen is the size of the shortest L_Data frame: no additional
// info and an empty payload. The additional-info length is always zero
// for the frames this gateway emits; CEMI allows a variable-length
// additional-info block between the message code and the control
// field, which real field devices occasionally set, so decode tolerates
// (and discards) it.
const minLDataLen = 1 + 1 + 2 + 2 + 2 + 1 // code + addinfo-len + control(2) + src(2) + dst(2) + len

// EncodeLData builds a complete L_Data CEMI frame with the given
// message code (LDataReq, LDataInd, or LDataCon).
func EncodeLData(code byte, f LData) []byte {
	buf := make([]byte, 0, 10+len(f.Data))
	buf = append(buf, code)
	buf = append(buf, 0x00) // additional info length: none

	ctrl1 := byte(0x80 | (byte(f.Priority) << 2)) // standard frame, no repeat, broadcast domain
	ctrl2 := byte(0x00)
	if f.GroupAddr {
		ctrl2 |= 0x80
	}
	ctrl2 |= 0x0F // hop count 15, extended frame format 0
	buf = append(buf, ctrl1, ctrl2)

	src := make([]byte, 2)
	binary.BigEndian.PutUint16(src, uint16(f.Source))
	buf = append(buf, src...)

	dst := make([]byte, 2)
	binary.BigEndian.PutUint16(dst, uint16(f.Destination))
	buf = append(buf, dst...)

	buf = append(buf, byte(len(f.Data))) //nolint:gosec // bus payloads are well under 256 bytes
	buf = append(buf, f.Data...)
	return buf
}

// DecodeLData parses an L_Data frame, returning its message code and
// decoded fields.
func DecodeLData(buf []byte) (code byte, f LData, err error) {
	if len(buf) < minLDataLen {
		return 0, LData{}, fmt.Errorf("cemi: L_Data frame too short (%d bytes)", len(buf))
	}
	code = buf[0]
	addInfoLen := int(buf[1])
	off := 2 + addInfoLen
	if len(buf) < off+7 {
		return 0, LData{}, fmt.Errorf("cemi: L_Data frame truncated after additional info")
	}

	ctrl2 := buf[off+1]
	f.Priority = Priority((buf[off] >> 2) & 0x03)
	f.GroupAddr = ctrl2&0x80 != 0
	f.Source = Address(binary.BigEndian.Uint16(buf[off+2 : off+4]))
	f.Destination = Address(binary.BigEndian.Uint16(buf[off+4 : off+6]))

	dataLen := int(buf[off+6])
	start := off + 7
	if len(buf) < start+dataLen {
		return 0, LData{}, fmt.Errorf("cemi: L_Data frame payload truncated")
	}
	f.Data = append([]byte(nil), buf[start:start+dataLen]...)
	return code, f, nil
}

// PropRead is a minimal M_PropRead.req/.con body: an addressed object/
// property pair plus, for a .con, the returned data.
type PropRead struct {
	Object   uint16
	Property byte
	Count    byte
	Data     []byte
}

// EncodePropReadReq builds an M_PropRead.req frame.
func EncodePropReadReq(p PropRead) []byte {
	buf := make([]byte, 0, 6)
	buf = append(buf, MPropReadReq)
	obj := make([]byte, 2)
	binary.BigEndian.PutUint16(obj, p.Object)
	buf = append(buf, obj...)
	buf = append(buf, p.Property, p.Count, 0x10) // element 1, no start-index high bits
	return buf
}

// EncodePropReadCon builds an M_PropRead.con frame carrying p.Data
// (empty Data with Count=0 signals "no such property").
func EncodePropReadCon(p PropRead) []byte {
	buf := make([]byte, 0, 6+len(p.Data))
	buf = append(buf, MPropReadCon)
	obj := make([]byte, 2)
	binary.BigEndian.PutUint16(obj, p.Object)
	buf = append(buf, obj...)
	buf = append(buf, p.Property, p.Count, 0x10)
	buf = append(buf, p.Data...)
	return buf
}

// DecodePropRead parses an M_PropRead.req or .con frame.
func DecodePropRead(buf []byte) (code byte, p PropRead, err error) {
	const minLen = 6
	if len(buf) < minLen {
		return 0, PropRead{}, fmt.Errorf("cemi: M_PropRead frame too short (%d bytes)", len(buf))
	}
	code = buf[0]
	if code != MPropReadReq && code != MPropReadCon {
		return 0, PropRead{}, fmt.Errorf("cemi: not an M_PropRead frame (code 0x%02X)", code)
	}
	p.Object = binary.BigEndian.Uint16(buf[1:3])
	p.Property = buf[3]
	p.Count = buf[4]
	if len(buf) > minLen {
		p.Data = append([]byte(nil), buf[minLen:]...)
	}
	return code, p, nil
}
