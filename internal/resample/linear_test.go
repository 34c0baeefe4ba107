package resample

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/audiopipe/internal/codec"
)

func floatFrame(t *testing.T, samples []float32) codec.Frame {
	t.Helper()
	raw := make([]byte, len(samples)*4)
	for i, s := range samples {
		bits := math.Float32bits(s)
		raw[i*4] = byte(bits)
		raw[i*4+1] = byte(bits >> 8)
		raw[i*4+2] = byte(bits >> 16)
		raw[i*4+3] = byte(bits >> 24)
	}
	return codec.Frame{Planes: [][]byte{raw}, NumSamples: len(samples)}
}

func TestLinearAdapterNoCompensationPassesThroughLength(t *testing.T) {
	a := NewLinear(1, codec.FormatFloat32, false)
	in := floatFrame(t, []float32{0.1, 0.2, 0.3, 0.4})

	dst := make([]float32, 64)
	written, err := a.Convert(dst, in)
	require.NoError(t, err)
	assert.Equal(t, 4, written, "with no compensation in flight, output length must equal input length")
}

func TestLinearAdapterCompensationAddsSamplesOverDistance(t *testing.T) {
	a := NewLinear(1, codec.FormatFloat32, false)
	require.NoError(t, a.SetCompensation(100, 1000))

	dst := make([]float32, 4096)
	total := 0
	for i := 0; i < 10; i++ {
		in := floatFrame(t, make([]float32, 100))
		written, err := a.Convert(dst, in)
		require.NoError(t, err)
		total += written
	}

	// 1000 input samples consumed (10 * 100) over a distance of 1000,
	// so the full +100 diff should have been distributed by now.
	assert.InDelta(t, 1100, total, 2, "compensation must add roughly diff extra samples over distance input samples")
}

func TestLinearAdapterDelayNonNegative(t *testing.T) {
	a := NewLinear(2, codec.FormatS16, false)
	in := codec.Frame{Planes: [][]byte{make([]byte, 960*2*2)}, NumSamples: 960}
	dst := make([]float32, 4096)
	_, err := a.Convert(dst, in)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, a.Delay(), 0)
}

func TestLinearAdapterPlanarStereo(t *testing.T) {
	a := NewLinear(2, codec.FormatFloat32, true)
	left := floatFrame(t, []float32{0.5, 0.5, 0.5})
	right := floatFrame(t, []float32{-0.5, -0.5, -0.5})
	in := codec.Frame{Planes: [][]byte{left.Planes[0], right.Planes[0]}, NumSamples: 3}

	dst := make([]float32, 64)
	written, err := a.Convert(dst, in)
	require.NoError(t, err)
	require.Equal(t, 3, written)
	for i := 0; i < written; i++ {
		assert.InDelta(t, 0.5, dst[i*2], 0.01)
		assert.InDelta(t, -0.5, dst[i*2+1], 0.01)
	}
}
