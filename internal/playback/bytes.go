package playback

import (
	"encoding/binary"
	"math"
)

// encodeFloat32 packs interleaved float32 samples into little-endian
// bytes, the wire format the ring and the device callback both expect.
func encodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// zeroBytes fills b with silence. Named rather than inlined since it's
// the underflow fallback invoked from two call sites in the pull path.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
