package bus

import (
	"context"
	"testing"

	"github.com/nerrad567/gray-logic-core/internal/cemi"
)

func TestFakeRouterAllocateExhausts(t *testing.T) {
	r := NewFakeRouter(0x1101, 0x1102)
	ctx := context.Background()

	if _, err := r.AllocateAddress(ctx); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if _, err := r.AllocateAddress(ctx); err != nil {
		t.Fatalf("second allocate: %v", err)
	}
	if _, err := r.AllocateAddress(ctx); err != ErrNoFreeAddress {
		t.Fatalf("third allocate: got %v, want ErrNoFreeAddress", err)
	}
}

func TestFakeRouterReleaseReturnsToPool(t *testing.T) {
	r := NewFakeRouter(0x1101)
	ctx := context.Background()

	addr, err := r.AllocateAddress(ctx)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	r.ReleaseAddress(addr)

	if _, err := r.AllocateAddress(ctx); err != nil {
		t.Fatalf("reallocate after release: %v", err)
	}
}

type recordingLink struct {
	frames []cemi.LData
}

func (l *recordingLink) OnLinkFrame(f cemi.LData) {
	l.frames = append(l.frames, f)
}

func TestFakeRouterDeliverFansOutToLinks(t *testing.T) {
	r := NewFakeRouter()
	link := &recordingLink{}
	deregister := r.RegisterLink(link)
	defer deregister()

	f := cemi.LData{Source: 0x1101, Destination: 0x0901, GroupAddr: true, Data: []byte{0x81}}
	if err := r.Deliver(context.Background(), f); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(link.frames) != 1 || link.frames[0].Destination != f.Destination {
		t.Fatalf("link.frames = %+v, want one frame matching %+v", link.frames, f)
	}
	if len(r.Delivered) != 1 {
		t.Fatalf("Delivered = %+v, want one entry", r.Delivered)
	}
}
