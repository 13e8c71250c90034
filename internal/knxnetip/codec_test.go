package knxnetip

import (
	"bytes"
	"net"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}
	frame := EncodeFrame(TunnelRequest, body)

	h, err := DecodeHeader(frame)
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}
	if h.Service != TunnelRequest {
		t.Errorf("Service = %v, want %v", h.Service, TunnelRequest)
	}
	if int(h.TotalLength) != len(frame) {
		t.Errorf("TotalLength = %d, want %d", h.TotalLength, len(frame))
	}
}

func TestDecodeHeaderRejectsLengthMismatch(t *testing.T) {
	frame := EncodeFrame(TunnelRequest, []byte{0x01})
	frame = append(frame, 0xFF) // buffer now longer than declared length

	if _, err := DecodeHeader(frame); err == nil {
		t.Fatal("expected error for length mismatch")
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	frame := EncodeFrame(TunnelRequest, nil)
	frame[0] = 0x07

	if _, err := DecodeHeader(frame); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestKnownService(t *testing.T) {
	if !knownService(RoutingIndication) {
		t.Error("RoutingIndication should be known")
	}
	if knownService(ServiceType(0xBEEF)) {
		t.Error("0xBEEF should not be known")
	}
}

func TestHPAIRoundTripV6(t *testing.T) {
	hp := HPAI{IP: net.ParseIP("fe80::1"), Port: 9999}
	encoded := hp.Encode()

	got, n, err := DecodeHPAI(encoded, nil)
	if err != nil {
		t.Fatalf("DecodeHPAI() error = %v", err)
	}
	if n != hpaiSizeV6 {
		t.Errorf("consumed %d bytes, want %d", n, hpaiSizeV6)
	}
	if !got.IP.Equal(hp.IP) || got.Port != hp.Port {
		t.Errorf("got %+v, want %+v", got, hp)
	}
}

func TestHPAINATSubstitution(t *testing.T) {
	src := &net.UDPAddr{IP: net.ParseIP("fe80::42"), Port: 3671}
	nat := HPAI{IP: net.IPv6zero, Port: 5555}

	got, _, err := DecodeHPAI(nat.Encode(), src)
	if err != nil {
		t.Fatalf("DecodeHPAI() error = %v", err)
	}
	if !got.IP.Equal(src.IP) {
		t.Errorf("IP = %v, want substituted %v", got.IP, src.IP)
	}
	if got.Port != 5555 {
		t.Errorf("Port = %d, want original 5555", got.Port)
	}
}

func TestHPAINATSubstitutesPortWhenZero(t *testing.T) {
	src := &net.UDPAddr{IP: net.ParseIP("fe80::42"), Port: 3671}
	nat := HPAI{IP: net.IPv6zero, Port: 0}

	got, _, err := DecodeHPAI(nat.Encode(), src)
	if err != nil {
		t.Fatalf("DecodeHPAI() error = %v", err)
	}
	if got.Port != uint16(src.Port) {
		t.Errorf("Port = %d, want substituted %d", got.Port, src.Port)
	}
}

func TestDecodeHPAIRejectsBadProtocol(t *testing.T) {
	buf := []byte{hpaiSizeV4, 0x02, 0, 0, 0, 0, 0, 0}
	if _, _, err := DecodeHPAI(buf, nil); err == nil {
		t.Fatal("expected error for bad protocol byte")
	}
}

func TestSearchRequestResponseRoundTrip(t *testing.T) {
	req := SearchRequestBody{Discovery: HPAI{IP: net.ParseIP("fe80::1"), Port: 9999}}
	encoded := req.Encode()

	got, err := DecodeSearchRequest(encoded, nil)
	if err != nil {
		t.Fatalf("DecodeSearchRequest() error = %v", err)
	}
	if !got.Discovery.IP.Equal(req.Discovery.IP) || got.Discovery.Port != req.Discovery.Port {
		t.Errorf("got %+v, want %+v", got, req)
	}

	resp := SearchResponseBody{
		Control: HPAI{IP: net.ParseIP("fe80::2"), Port: 3671},
		Device: DeviceInfoDIB{
			Medium: 0x02,
			Name:   "eibd-test",
		},
		Families: SupportedFamiliesDIB{Families: []ServiceFamily{FamilyCore, FamilyTunnelling}},
	}
	gotResp, err := DecodeSearchResponse(resp.Encode())
	if err != nil {
		t.Fatalf("DecodeSearchResponse() error = %v", err)
	}
	if gotResp.Device.Name != "eibd-test" {
		t.Errorf("Name = %q, want %q", gotResp.Device.Name, "eibd-test")
	}
	if len(gotResp.Families.Families) != 2 {
		t.Errorf("Families = %+v, want 2 entries", gotResp.Families.Families)
	}
}

func TestConnectRequestCRIRoundTrip(t *testing.T) {
	tests := []ConnectionType{TunnelStandard, TunnelBusmonitor, ConfigConnection}

	for _, ct := range tests {
		req := ConnectRequestBody{
			Control: HPAI{IP: net.ParseIP("fe80::1"), Port: 1},
			Data:    HPAI{IP: net.ParseIP("fe80::1"), Port: 2},
			Type:    ct,
		}
		got, err := DecodeConnectRequest(req.Encode(), nil)
		if err != nil {
			t.Fatalf("type %v: DecodeConnectRequest() error = %v", ct, err)
		}
		if got.Type != ct {
			t.Errorf("Type = %v, want %v", got.Type, ct)
		}
	}
}

func TestConnectResponseSuccessRoundTrip(t *testing.T) {
	resp := ConnectResponseBody{
		Channel: 1,
		Status:  StatusNoError,
		Data:    HPAI{IP: net.ParseIP("fe80::1"), Port: 1234},
		Type:    TunnelStandard,
		Addr:    0x112A,
	}
	got, err := DecodeConnectResponse(resp.Encode())
	if err != nil {
		t.Fatalf("DecodeConnectResponse() error = %v", err)
	}
	if got.Channel != 1 || got.Addr != 0x112A {
		t.Errorf("got %+v, want %+v", got, resp)
	}
}

func TestConnectResponseErrorOmitsCRD(t *testing.T) {
	resp := ConnectResponseBody{Channel: 0, Status: StatusNoMoreConnections}
	encoded := resp.Encode()
	if len(encoded) != 2 {
		t.Fatalf("error response length = %d, want 2", len(encoded))
	}
	got, err := DecodeConnectResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeConnectResponse() error = %v", err)
	}
	if got.Status != StatusNoMoreConnections {
		t.Errorf("Status = %v, want %v", got.Status, StatusNoMoreConnections)
	}
}

func TestSessionRequestAckRoundTrip(t *testing.T) {
	req := SessionRequestBody{Channel: 1, Seq: 7, CEMI: []byte{0x11, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}}
	got, err := DecodeSessionRequest(req.Encode())
	if err != nil {
		t.Fatalf("DecodeSessionRequest() error = %v", err)
	}
	if got.Channel != 1 || got.Seq != 7 || !bytes.Equal(got.CEMI, req.CEMI) {
		t.Errorf("got %+v, want %+v", got, req)
	}

	ack := SessionAckBody{Channel: 1, Seq: 7, Status: StatusNoError}
	gotAck, err := DecodeSessionAck(ack.Encode())
	if err != nil {
		t.Fatalf("DecodeSessionAck() error = %v", err)
	}
	if gotAck != ack {
		t.Errorf("got %+v, want %+v", gotAck, ack)
	}
}

func TestRoutingIndicationRejectsEmpty(t *testing.T) {
	if _, err := DecodeRoutingIndication(nil); err == nil {
		t.Fatal("expected error for empty ROUTING_INDICATION")
	}
}

func TestConnectionStateAndDisconnectRoundTrip(t *testing.T) {
	csReq := ConnectionStateRequestBody{Channel: 5, Control: HPAI{IP: net.ParseIP("fe80::1"), Port: 1}}
	gotCS, err := DecodeConnectionStateRequest(csReq.Encode(), nil)
	if err != nil {
		t.Fatalf("DecodeConnectionStateRequest() error = %v", err)
	}
	if gotCS.Channel != 5 {
		t.Errorf("Channel = %d, want 5", gotCS.Channel)
	}

	csResp := ConnectionStateResponseBody{Channel: 5, Status: StatusConnectionID}
	gotCSResp, err := DecodeConnectionStateResponse(csResp.Encode())
	if err != nil {
		t.Fatalf("DecodeConnectionStateResponse() error = %v", err)
	}
	if gotCSResp != csResp {
		t.Errorf("got %+v, want %+v", gotCSResp, csResp)
	}

	discReq := DisconnectRequestBody{Channel: 5, Control: HPAI{IP: net.ParseIP("fe80::1"), Port: 1}}
	gotDisc, err := DecodeDisconnectRequest(discReq.Encode(), nil)
	if err != nil {
		t.Fatalf("DecodeDisconnectRequest() error = %v", err)
	}
	if gotDisc.Channel != 5 {
		t.Errorf("Channel = %d, want 5", gotDisc.Channel)
	}

	discResp := DisconnectResponseBody{Channel: 5, Status: StatusNoError}
	gotDiscResp, err := DecodeDisconnectResponse(discResp.Encode())
	if err != nil {
		t.Fatalf("DecodeDisconnectResponse() error = %v", err)
	}
	if gotDiscResp != discResp {
		t.Errorf("got %+v, want %+v", gotDiscResp, discResp)
	}
}
