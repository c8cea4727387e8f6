package device

import "math/rand/v2"

// PadBuffer returns buf extended to size bytes with the blank value 0xFF.
// Longer buffers are returned unchanged.
func PadBuffer(buf []byte, size int) []byte {
	if len(buf) >= size {
		return buf
	}
	out := make([]byte, size)
	n := copy(out, buf)
	for i := n; i < size; i++ {
		out[i] = 0xFF
	}
	return out
}

// PatternBuffer alternates seed and its complement, one per byte.
func PatternBuffer(size int, seed byte) []byte {
	out := make([]byte, size)
	for i := range out {
		if i%2 == 0 {
			out[i] = seed
		} else {
			out[i] = ^seed
		}
	}
	return out
}

// RandomBuffer returns size bytes from rng.
func RandomBuffer(rng *rand.Rand, size int) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(rng.Uint32())
	}
	return out
}
