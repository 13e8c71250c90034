package cemi

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeLDataRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		code byte
		f    LData
	}{
		{
			name: "group write",
			code: LDataInd,
			f: LData{
				Source:      0x1101,
				Destination: 0x0901,
				GroupAddr:   true,
				Priority:    PriorityLow,
				Data:        []byte{0x00, 0x81},
			},
		},
		{
			name: "individual request, empty payload",
			code: LDataReq,
			f: LData{
				Source:      0x0000,
				Destination: 0x1102,
				GroupAddr:   false,
				Priority:    PrioritySystem,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := EncodeLData(tt.code, tt.f)
			code, got, err := DecodeLData(encoded)
			if err != nil {
				t.Fatalf("DecodeLData() error = %v", err)
			}
			if code != tt.code {
				t.Errorf("code = 0x%02X, want 0x%02X", code, tt.code)
			}
			if got.Source != tt.f.Source || got.Destination != tt.f.Destination || got.GroupAddr != tt.f.GroupAddr || got.Priority != tt.f.Priority {
				t.Errorf("decoded fields = %+v, want %+v", got, tt.f)
			}
			if !bytes.Equal(got.Data, tt.f.Data) && !(len(got.Data) == 0 && len(tt.f.Data) == 0) {
				t.Errorf("Data = %X, want %X", got.Data, tt.f.Data)
			}
		})
	}
}

func TestDecodeLDataTooShort(t *testing.T) {
	_, _, err := DecodeLData([]byte{0x29, 0x00})
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestAddressString(t *testing.T) {
	a := Address(0x1102)
	if got, want := a.String(), "1.1.2"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestEncodeDecodePropReadRoundTrip(t *testing.T) {
	p := PropRead{Object: 0, Property: 0, Count: 1, Data: []byte{0x00, 0x07}}
	encoded := EncodePropReadCon(p)
	code, got, err := DecodePropRead(encoded)
	if err != nil {
		t.Fatalf("DecodePropRead() error = %v", err)
	}
	if code != MPropReadCon {
		t.Errorf("code = 0x%02X, want M_PropRead.con", code)
	}
	if got.Object != p.Object || got.Property != p.Property || got.Count != p.Count {
		t.Errorf("decoded = %+v, want %+v", got, p)
	}
	if !bytes.Equal(got.Data, p.Data) {
		t.Errorf("Data = %X, want %X", got.Data, p.Data)
	}
}

func TestDecodePropReadRejectsOtherLeader(t *testing.T) {
	_, _, err := DecodePropRead([]byte{LDataInd, 0, 0, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error for non-M_PropRead leader")
	}
}
