package knxnetip

import "testing"

// FuzzDecodeHeader checks that header decoding never panics and always
// rejects buffers whose declared length field disagrees with the
// actual buffer size (spec.md §8, "Codec round-trips").
func FuzzDecodeHeader(f *testing.F) {
	f.Add(EncodeFrame(SearchRequest, []byte{0x08, 0x01, 0, 0, 0, 0, 0x0e, 0x57}))
	f.Add([]byte{})
	f.Add([]byte{0x06, 0x10, 0x02, 0x01, 0x00, 0x06})
	f.Add([]byte{0x06, 0x10, 0x02, 0x01, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, buf []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("DecodeHeader panicked on %X: %v", buf, r)
			}
		}()

		h, err := DecodeHeader(buf)
		if err != nil {
			return
		}
		if int(h.TotalLength) != len(buf) {
			t.Fatalf("accepted buffer with disagreeing length field: declared %d, actual %d", h.TotalLength, len(buf))
		}
	})
}

// FuzzDecodeHPAI checks that HPAI decoding never panics on arbitrary
// input.
func FuzzDecodeHPAI(f *testing.F) {
	f.Add([]byte{0x08, 0x01, 0, 0, 0, 0, 0, 0})
	f.Add([]byte{0x12, 0x01})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, buf []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("DecodeHPAI panicked on %X: %v", buf, r)
			}
		}()
		_, _, _ = DecodeHPAI(buf, nil)
	})
}
