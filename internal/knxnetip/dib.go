package knxnetip

import (
	"encoding/binary"
	"fmt"
)

// Description-information-block type codes used by this gateway.
// The full KNXnet/IP enumeration defines more (IP config, KNX
// addresses, ...); only the two carried in SEARCH_RESPONSE/
// DESCRIPTION_RESPONSE here are implemented.
const (
	dibDeviceInfo       = 0x01
	dibSupportedFamilies = 0x02
)

const (
	deviceInfoDIBSize = 66
	friendlyNameLen   = 30
)

// ServiceFamily identifies a KNXnet/IP service family advertised by
// the supported-services DIB.
type ServiceFamily uint8

// Service families the gateway may advertise.
const (
	FamilyCore        ServiceFamily = 0x02
	FamilyDeviceMgmt   ServiceFamily = 0x03
	FamilyTunnelling   ServiceFamily = 0x04
	FamilyRouting      ServiceFamily = 0x05
)

// serviceFamilyVersion is the protocol version advertised for every
// supported family; the gateway implements version 1 throughout.
const serviceFamilyVersion = 1

// DeviceInfoDIB describes the gateway device in discovery/description
// responses.
type DeviceInfoDIB struct {
	Medium           byte
	Status           byte
	IndividualAddr   uint16
	InstallationID   uint16
	SerialNumber     [6]byte
	MulticastAddr    [16]byte
	MAC              [6]byte
	Name             string // up to 30 bytes, NUL-padded
}

// Encode writes the 66-byte device information DIB.
func (d DeviceInfoDIB) Encode() []byte {
	buf := make([]byte, deviceInfoDIBSize)
	buf[0] = deviceInfoDIBSize
	buf[1] = dibDeviceInfo
	buf[2] = d.Medium
	buf[3] = d.Status
	binary.BigEndian.PutUint16(buf[4:6], d.IndividualAddr)
	binary.BigEndian.PutUint16(buf[6:8], d.InstallationID)
	copy(buf[8:14], d.SerialNumber[:])
	copy(buf[14:30], d.MulticastAddr[:])
	copy(buf[30:36], d.MAC[:])
	name := []byte(d.Name)
	if len(name) > friendlyNameLen {
		name = name[:friendlyNameLen]
	}
	copy(buf[36:36+len(name)], name)
	return buf
}

// DecodeDeviceInfoDIB parses a device information DIB, returning the
// value and bytes consumed.
func DecodeDeviceInfoDIB(buf []byte) (DeviceInfoDIB, int, error) {
	if len(buf) < deviceInfoDIBSize {
		return DeviceInfoDIB{}, 0, fmt.Errorf("%w: device info DIB truncated", ErrMalformedFrame)
	}
	if buf[0] != deviceInfoDIBSize || buf[1] != dibDeviceInfo {
		return DeviceInfoDIB{}, 0, fmt.Errorf("%w: bad device info DIB header", ErrMalformedFrame)
	}
	var d DeviceInfoDIB
	d.Medium = buf[2]
	d.Status = buf[3]
	d.IndividualAddr = binary.BigEndian.Uint16(buf[4:6])
	d.InstallationID = binary.BigEndian.Uint16(buf[6:8])
	copy(d.SerialNumber[:], buf[8:14])
	copy(d.MulticastAddr[:], buf[14:30])
	copy(d.MAC[:], buf[30:36])
	nameEnd := 36
	for nameEnd < deviceInfoDIBSize && buf[nameEnd] != 0 {
		nameEnd++
	}
	d.Name = string(buf[36:nameEnd])
	return d, deviceInfoDIBSize, nil
}

// SupportedFamiliesDIB lists the service families the gateway
// implements, each at serviceFamilyVersion.
type SupportedFamiliesDIB struct {
	Families []ServiceFamily
}

// Encode writes the variable-length supported-families DIB.
func (s SupportedFamiliesDIB) Encode() []byte {
	size := 2 + 2*len(s.Families)
	buf := make([]byte, size)
	buf[0] = byte(size) //nolint:gosec // bounded by the closed family set
	buf[1] = dibSupportedFamilies
	for i, f := range s.Families {
		buf[2+2*i] = byte(f)
		buf[2+2*i+1] = serviceFamilyVersion
	}
	return buf
}

// DecodeSupportedFamiliesDIB parses a supported-families DIB.
func DecodeSupportedFamiliesDIB(buf []byte) (SupportedFamiliesDIB, int, error) {
	if len(buf) < 2 {
		return SupportedFamiliesDIB{}, 0, fmt.Errorf("%w: supported families DIB too short", ErrMalformedFrame)
	}
	length := int(buf[0])
	if buf[1] != dibSupportedFamilies || length < 2 || length%2 != 0 || len(buf) < length {
		return SupportedFamiliesDIB{}, 0, fmt.Errorf("%w: bad supported families DIB", ErrMalformedFrame)
	}
	var s SupportedFamiliesDIB
	for i := 2; i < length; i += 2 {
		s.Families = append(s.Families, ServiceFamily(buf[i]))
	}
	return s, length, nil
}
