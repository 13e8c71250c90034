package knxnetip

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-core/internal/cemi"
)

// fakeHost is a minimal ConnHost test double: it records every frame a
// Connection asks to send instead of going through a real endpoint.
type fakeHost struct {
	mu        sync.Mutex
	sessions  []sentFrame
	controls  []sentFrame
	delivered []cemi.LData
	dropped   []byte
}

type sentFrame struct {
	service ServiceType
	body    []byte
}

func (h *fakeHost) SendSession(_ *Connection, service ServiceType, body []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, sentFrame{service, body})
	return nil
}

func (h *fakeHost) SendControl(_ *Connection, service ServiceType, body []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controls = append(h.controls, sentFrame{service, body})
	return nil
}

func (h *fakeHost) Deliver(_ context.Context, f cemi.LData) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delivered = append(h.delivered, f)
	return nil
}

func (h *fakeHost) ScheduleDrop(channel byte, _ bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped = append(h.dropped, channel)
}

func (h *fakeHost) Trace(string, ...any) {}

func (h *fakeHost) session(i int) sentFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[i]
}

func (h *fakeHost) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func newTestAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("fe80::1"), Port: 3671}
}

func TestConnectionAcceptsInOrderFrame(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, TunnelStandard, 0x1101, newTestAddr(), newTestAddr(), false)

	frame := cemi.EncodeLData(cemi.LDataReq, cemi.LData{Destination: 0x0901, GroupAddr: true, Data: []byte{0x00, 0x81}})
	conn.HandleSessionRequest(context.Background(), 0, frame)

	ack := host.session(0)
	gotAck, err := DecodeSessionAck(ack.body)
	if err != nil {
		t.Fatalf("DecodeSessionAck() error = %v", err)
	}
	if gotAck.Status != StatusNoError || gotAck.Seq != 0 {
		t.Errorf("ack = %+v, want seq=0 status=0", gotAck)
	}
	if len(host.delivered) != 1 {
		t.Fatalf("delivered = %d frames, want 1", len(host.delivered))
	}
	// The req leader also triggers an echoed L_Data.con, enqueued
	// behind the ack.
	if host.sessionCount() != 2 {
		t.Fatalf("sessions sent = %d, want 2 (ack + echoed con)", host.sessionCount())
	}
}

func TestConnectionReACKsDuplicateFrame(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, TunnelStandard, 0x1101, newTestAddr(), newTestAddr(), false)

	frame := cemi.EncodeLData(cemi.LDataReq, cemi.LData{Destination: 0x0901, GroupAddr: true, Data: []byte{0x00, 0x81}})
	conn.HandleSessionRequest(context.Background(), 0, frame)
	conn.HandleSessionRequest(context.Background(), 0, frame) // duplicate

	if len(host.delivered) != 1 {
		t.Fatalf("delivered = %d frames, want 1 (duplicate must not re-deliver)", len(host.delivered))
	}
	// ack + echoed con (first delivery) + re-ack (duplicate) = 3.
	if host.sessionCount() != 3 {
		t.Fatalf("sessions sent = %d, want 3", host.sessionCount())
	}
}

func TestConnectionDropsOutOfWindowFrame(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, TunnelStandard, 0x1101, newTestAddr(), newTestAddr(), false)

	frame := cemi.EncodeLData(cemi.LDataReq, cemi.LData{Destination: 0x0901, GroupAddr: true, Data: []byte{0x00, 0x81}})
	conn.HandleSessionRequest(context.Background(), 5, frame) // far outside window

	if len(host.sessions) != 0 {
		t.Fatalf("sessions sent = %d, want 0 (out-of-window frame must be dropped silently)", len(host.sessions))
	}
}

func TestConnectionOutboundRetryBudget(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, TunnelStandard, 0x1101, newTestAddr(), newTestAddr(), false)

	conn.PushBusFrame(cemi.LData{Source: 0x1102, Destination: 0x0901, GroupAddr: true, Data: []byte{0x00, 0x80}})
	if len(host.sessions) != 1 {
		t.Fatalf("sessions sent = %d, want 1 (initial send)", len(host.sessions))
	}

	conn.onRetryTimeout() // retry 1
	conn.onRetryTimeout() // retry 2
	if len(host.sessions) != 3 {
		t.Fatalf("sessions sent = %d, want 3 (1 initial + 2 retries)", len(host.sessions))
	}
	if len(host.dropped) != 0 {
		t.Fatalf("connection dropped early, retries = %d", len(host.sessions))
	}

	conn.onRetryTimeout() // budget exhausted
	if len(host.dropped) != 1 {
		t.Fatalf("dropped = %d, want 1 after exceeding retry budget", len(host.dropped))
	}
}

func TestConnectionAckAdvancesSequenceAndDrainsQueue(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, TunnelStandard, 0x1101, newTestAddr(), newTestAddr(), false)

	conn.PushBusFrame(cemi.LData{Source: 0x1102, Destination: 0x0901, GroupAddr: true, Data: []byte{0x00, 0x80}})
	conn.PushBusFrame(cemi.LData{Source: 0x1102, Destination: 0x0902, GroupAddr: true, Data: []byte{0x00, 0x81}})

	if len(host.sessions) != 1 {
		t.Fatalf("sessions sent = %d, want 1 (second frame queued behind the first)", len(host.sessions))
	}

	conn.HandleSessionAck(0, StatusNoError)
	if len(host.sessions) != 2 {
		t.Fatalf("sessions sent = %d, want 2 after ack drains queue head", len(host.sessions))
	}
}

func TestConnectionHeartbeatExpiryDropsConnection(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, TunnelStandard, 0x1101, newTestAddr(), newTestAddr(), false)

	conn.onHeartbeatExpired()

	if len(host.dropped) != 1 || host.dropped[0] != 1 {
		t.Fatalf("dropped = %v, want [1]", host.dropped)
	}
	if conn.IsLive() {
		t.Error("connection should no longer be live after heartbeat expiry")
	}
}

func TestConnectionStateRequestResetsHeartbeat(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, TunnelStandard, 0x1101, newTestAddr(), newTestAddr(), false)

	status := conn.HandleConnectionStateRequest()
	if status != StatusNoError {
		t.Errorf("status = %d, want 0", status)
	}
}

func TestConnectionStateRequestOnStoppedConnection(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, TunnelStandard, 0x1101, newTestAddr(), newTestAddr(), false)
	conn.Stop(false)

	status := conn.HandleConnectionStateRequest()
	if status != StatusConnectionID {
		t.Errorf("status = %d, want 0x21 for a stopped connection", status)
	}
}

func TestBusmonitorConnectionIgnoresSessionTraffic(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, TunnelBusmonitor, 0, newTestAddr(), newTestAddr(), false)

	frame := cemi.EncodeLData(cemi.LDataReq, cemi.LData{Destination: 0x0901, GroupAddr: true, Data: []byte{0x00, 0x81}})
	conn.HandleSessionRequest(context.Background(), 0, frame)

	if len(host.delivered) != 0 {
		t.Errorf("busmonitor connection must not push inbound CEMI upstream")
	}

	conn.PushBusmonFrame(cemi.LData{Source: 0x1102, Destination: 0x0901, GroupAddr: true, Data: []byte{0x00, 0x80}})
	// The inbound request is still acknowledged (session 0); the pushed
	// busmonitor frame is the second session frame.
	if len(host.sessions) != 2 {
		t.Fatalf("sessions sent = %d, want 2 (ack + pushed busmonitor frame)", len(host.sessions))
	}
}

func TestConfigConnectionAnswersDeviceFloorProperty(t *testing.T) {
	host := &fakeHost{}
	conn := NewConnection(host, 1, ConfigConnection, 0, newTestAddr(), newTestAddr(), false)

	req := cemi.EncodePropReadReq(cemi.PropRead{Object: 0, Property: 0})
	conn.HandleSessionRequest(context.Background(), 0, req)

	if len(host.sessions) != 2 {
		t.Fatalf("sessions sent = %d, want 2 (ack + M_PropRead.con)", len(host.sessions))
	}
	propFrame := host.sessions[1]
	sessionBody, err := DecodeSessionRequest(propFrame.body)
	if err != nil {
		t.Fatalf("DecodeSessionRequest() error = %v", err)
	}
	code, p, err := cemi.DecodePropRead(sessionBody.CEMI)
	if err != nil {
		t.Fatalf("DecodePropRead() error = %v", err)
	}
	if code != cemi.MPropReadCon || p.Count == 0 {
		t.Errorf("got code=0x%02X count=%d, want M_PropRead.con with data", code, p.Count)
	}
}
