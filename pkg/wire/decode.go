package wire

import "fmt"

// BlockReadChunkSize returns the number of raw response bytes needed to
// decode n bytes of real data from a block-read response: groups of 6
// raw bytes (4 data + 2 padding) per §3.
func BlockReadChunkSize(n int) int {
	groups := (n + 3) / 4
	return groups * 6
}

// DecodeBlockRead re-packs a block-read response payload encoded in
// groups of 6 (4 data bytes, 2 padding bytes) back into n contiguous
// data bytes. The caller must have requested ceil(n/4)*6 raw bytes.
func DecodeBlockRead(raw []byte, n int) ([]byte, error) {
	want := BlockReadChunkSize(n)
	if len(raw) < want {
		return nil, fmt.Errorf("wire: block-read payload too short: got %d bytes, need %d for %d data bytes", len(raw), want, n)
	}

	out := make([]byte, 0, n)
	for i := 0; i+6 <= want && len(out) < n; i += 6 {
		group := raw[i : i+4]
		take := 4
		if n-len(out) < 4 {
			take = n - len(out)
		}
		out = append(out, group[:take]...)
	}
	return out, nil
}

// DecodeSRAMLongword extracts the four bytes of a 32-bit value from a
// verify-read (§3) response payload at the non-contiguous offsets
// {0, 7, 9, 11}. This decoding is load-bearing per §9 and must not be
// refactored into a contiguous copy.
func DecodeSRAMLongword(payload []byte) ([4]byte, error) {
	var out [4]byte
	offsets := [4]int{0, 7, 9, 11}
	for i, off := range offsets {
		if off >= len(payload) {
			return out, fmt.Errorf("wire: verify-read payload too short: need offset %d, have %d bytes", off, len(payload))
		}
		out[i] = payload[off]
	}
	return out, nil
}
