package knxnetip

import "github.com/nerrad567/gray-logic-core/internal/cemi"

// Interface Object properties this stub answers. The gateway does not
// implement a real device/object model (that lives entirely on real
// KNX devices); CONFIG connections exist so that ETS and diagnostic
// tools can open a management session without the gateway rejecting
// the handshake outright. PID_SERIAL_NUMBER and PID_FIRMWARE_REVISION
// supplement the bare (object=0, property=0) floor the distilled spec
// names, matching what a minimal IP interface object in the original
// knxd reports (see SPEC_FULL.md's supplemented-features section).
const (
	objectDevice = 0

	pidObjectType       = 0
	pidSerialNumber     = 11
	pidFirmwareRevision = 13
)

var serialNumber = [6]byte{0x00, 0xFA, 0x00, 0x00, 0x00, 0x01}

// ResolveProperty answers an M_PropRead.req for the known read-only
// properties of the device object; anything else comes back with
// Count=0, signalling "no such property" per §4.D/§9.4.
func ResolveProperty(req cemi.PropRead) cemi.PropRead {
	resp := cemi.PropRead{Object: req.Object, Property: req.Property}
	if req.Object != objectDevice {
		return resp
	}

	switch req.Property {
	case pidObjectType:
		resp.Count = 1
		resp.Data = []byte{0x00, objectDevice}
	case pidSerialNumber:
		resp.Count = 1
		resp.Data = append([]byte(nil), serialNumber[:]...)
	case pidFirmwareRevision:
		resp.Count = 1
		resp.Data = []byte{0x01} // firmware revision 1
	default:
		resp.Count = 0
	}
	return resp
}
