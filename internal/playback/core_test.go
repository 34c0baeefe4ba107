package playback

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agalue/audiopipe/internal/codec"
	"github.com/agalue/audiopipe/internal/device"
	"github.com/agalue/audiopipe/internal/resample"
)

// fakeDevice stands in for MalgoDevice: a synchronous, directly-driven
// Device the test pulls from itself instead of a real-time callback
// thread, so scenarios are deterministic.
type fakeDevice struct {
	spec   device.Spec
	paused bool
	closed bool
}

func newFakeDevice(spec device.Spec) (device.Device, error) {
	return &fakeDevice{spec: spec}, nil
}

func (f *fakeDevice) Lock()   {}
func (f *fakeDevice) Unlock() {}
func (f *fakeDevice) Pause(paused bool) error {
	f.paused = paused
	return nil
}
func (f *fakeDevice) Close() error {
	f.closed = true
	return nil
}

// pull invokes the wired data callback directly, emulating one device
// buffer cycle, and returns the decoded float32 samples it produced.
func (f *fakeDevice) pull(outSamples int) []float32 {
	sampleSize := int(f.spec.Channels) * 4
	buf := make([]byte, outSamples*sampleSize)
	f.spec.DataCallback(buf)
	out := make([]float32, outSamples*int(f.spec.Channels))
	for i := range out {
		bits := binary.LittleEndian.Uint32(buf[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func monoFrame(values ...float32) codec.Frame {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return codec.Frame{Planes: [][]byte{buf}, NumSamples: len(values)}
}

func constantFrame(n int, v float32) codec.Frame {
	values := make([]float32, n)
	for i := range values {
		values[i] = v
	}
	return monoFrame(values...)
}

func newTestCore(targetMs int) (*Core, *fakeDevice) {
	var fd *fakeDevice
	opener := func(spec device.Spec) (device.Device, error) {
		d, err := newFakeDevice(spec)
		fd = d.(*fakeDevice)
		return d, err
	}
	factory := func(ctx codec.Context) (resample.Converter, error) {
		return resample.NewLinear(ctx.Channels, ctx.Format, ctx.Planar), nil
	}
	c := New(targetMs, opener, factory)
	return c, fd
}

func ctxMono(rate int) codec.Context {
	return codec.Context{SampleRate: rate, Channels: 1, Format: codec.FormatFloat32, Planar: false}
}

// S4: initial-buffering gate — before target-minus-margin samples have
// accumulated, pulls must be pure silence and played must not flip true.
func TestInitialBufferingGateWithholdsUntilMargin(t *testing.T) {
	c, fd := newTestCore(100) // 100ms target @ 1000Hz = 100 samples
	require.NoError(t, c.Open(ctxMono(1000)))
	defer c.Close()

	require.NoError(t, c.Push(constantFrame(50, 1.0)))

	out := fd.pull(10)
	for _, s := range out {
		assert.Equal(t, float32(0), s, "must be silence before buffering margin is met")
	}
	assert.False(t, c.played.Load())
}

// S4 continued: once buffered+margin reaches target, the gate opens and
// real samples flow.
func TestInitialBufferingGateOpensAtTarget(t *testing.T) {
	c, fd := newTestCore(100)
	require.NoError(t, c.Open(ctxMono(1000)))
	defer c.Close()

	// margin = 30ms*1000/1000 = 30 samples; target = 100. Pushing 100
	// samples means buffered(100)+margin(30) >= target(100).
	require.NoError(t, c.Push(constantFrame(100, 1.0)))

	out := fd.pull(10)
	nonZero := false
	for _, s := range out {
		if s != 0 {
			nonZero = true
		}
	}
	assert.True(t, nonZero, "gate should have opened and emitted real samples")
	assert.True(t, c.played.Load())
}

// S1: steady state — once playing, alternating pushes and pulls of equal
// sizes run without error or panic and playback stays started.
func TestSteadyStatePushPullRoundTrips(t *testing.T) {
	c, fd := newTestCore(50)
	require.NoError(t, c.Open(ctxMono(1000)))
	defer c.Close()

	require.NoError(t, c.Push(constantFrame(60, 0.5)))
	fd.pull(60) // crosses the gate, starts playback

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Push(constantFrame(10, 0.5)))
		fd.pull(10)
	}
	assert.True(t, c.played.Load())
}

// S2: underflow — once playing, a pull larger than what's buffered must
// silence-fill the remainder and nudge avg upward by the shortfall.
func TestUnderflowSilenceFillsShortfall(t *testing.T) {
	c, fd := newTestCore(20)
	require.NoError(t, c.Open(ctxMono(1000)))
	defer c.Close()

	require.NoError(t, c.Push(constantFrame(30, 1.0)))
	fd.pull(30) // opens gate, drains to empty

	require.NoError(t, c.Push(constantFrame(5, 1.0)))
	before := c.avg.Get()
	out := fd.pull(20) // only 5 available, 15 must be silence

	nonZero := 0
	for _, s := range out {
		if s != 0 {
			nonZero++
		}
	}
	assert.LessOrEqual(t, nonZero, 5)
	assert.Greater(t, c.avg.Get(), before, "avg should absorb the silence-filled shortfall")
}

// S3: overflow — pushing far more than the ring can hold while already
// playing drives the overflow skip path, which must neither block nor
// panic and must leave occupancy within capacity.
func TestOverflowSkipsOldestSamples(t *testing.T) {
	c, fd := newTestCore(10)
	require.NoError(t, c.Open(ctxMono(1000)))
	defer c.Close()

	require.NoError(t, c.Push(constantFrame(15, 1.0)))
	fd.pull(15) // open gate

	// Ring capacity is target(10)+sampleRate(1000) samples; push well
	// beyond canWrite to force the slow overflow path repeatedly.
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Push(constantFrame(2000, 1.0)))
	}
	// Must not panic and must remain within capacity.
	assert.LessOrEqual(t, c.ring.CanRead(), c.ring.Capacity())
}

// A single frame larger than the entire ring capacity must still be
// handled: the unplayable prefix is dropped before anything is written.
func TestFrameLargerThanRingCapacityIsClamped(t *testing.T) {
	c, fd := newTestCore(5)
	require.NoError(t, c.Open(ctxMono(1000)))
	defer c.Close()

	require.NoError(t, c.Push(constantFrame(5, 1.0)))
	fd.pull(5)

	huge := int(c.ring.Capacity()) + 500
	require.NoError(t, c.Push(constantFrame(huge, 1.0)))
	assert.LessOrEqual(t, c.ring.CanRead(), c.ring.Capacity())
}

// S5: compensation recompute runs once per second of output and clamps
// to +-2% of the distance, never panicking the converter.
func TestCompensationRecomputeClamps(t *testing.T) {
	c, fd := newTestCore(500) // large target vs a small actual buffer -> big diff
	require.NoError(t, c.Open(ctxMono(1000)))
	defer c.Close()

	require.NoError(t, c.Push(constantFrame(600, 1.0)))
	fd.pull(600)

	// Drive a full second of played output to trigger recompensate().
	for i := 0; i < 100; i++ {
		require.NoError(t, c.Push(constantFrame(10, 1.0)))
		fd.pull(10)
	}

	// The recompute ran at the 100th push with avg=10, so diff=500-10=490,
	// clamped to distance(4000)/50=80. A 1000-sample frame now gets
	// 80*1000/4000=20 extra samples (it would get 122 unclamped).
	la := c.conv.(*resample.LinearAdapter)
	dst := make([]float32, 2048)
	written, err := la.Convert(dst, constantFrame(1000, 1.0))
	require.NoError(t, err)
	assert.Equal(t, 1020, written, "compensation must be clamped to distance/50")
	assert.LessOrEqual(t, c.ring.CanRead(), c.ring.Capacity())
}

// Once the gate has opened, played never reverts to false, even through
// an underflow.
func TestPlayedNeverRevertsToFalse(t *testing.T) {
	c, fd := newTestCore(50)
	require.NoError(t, c.Open(ctxMono(1000)))
	defer c.Close()

	require.NoError(t, c.Push(constantFrame(60, 1.0)))
	fd.pull(60)
	require.True(t, c.played.Load())

	fd.pull(1000) // drain far past what's buffered, forcing underflow
	assert.True(t, c.played.Load(), "played must not revert once true")
}

func TestPushBeforeOpenReturnsErrNotOpen(t *testing.T) {
	c, _ := newTestCore(50)
	err := c.Push(constantFrame(1, 0))
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestDoubleOpenReturnsErrAlreadyOpen(t *testing.T) {
	c, _ := newTestCore(50)
	require.NoError(t, c.Open(ctxMono(1000)))
	defer c.Close()
	assert.ErrorIs(t, c.Open(ctxMono(1000)), ErrAlreadyOpen)
}
