package resample

import (
	"github.com/agalue/audiopipe/internal/codec"
)

// LinearAdapter is a dependency-free Converter using linear interpolation,
// generalizing agalue/voice-assistant's internal/audio Resampler (plain
// linear resampling) and PolyphaseResampler (carried-over history across
// calls) to support the playback core's compensation contract: nominally
// 1:1 passthrough, skewed by SetCompensation to gradually correct clock
// drift, the way swr_set_compensation does for the scrcpy resampler this
// spec was distilled from.
type LinearAdapter struct {
	cfg channelConfig

	carry []float32 // last input sample per channel, kept by resampleToLength

	compDiff      int // remaining signed samples to distribute
	compRemaining int // remaining input samples over which to distribute compDiff

	delay int // output samples the last Convert could not fit into dst; they are dropped, not kept
}

// NewLinear creates a LinearAdapter for the given channel layout and
// input format.
func NewLinear(channels int, format codec.SampleFormat, planar bool) *LinearAdapter {
	return &LinearAdapter{
		cfg:   channelConfig{channels: channels, format: format, planar: planar},
		carry: make([]float32, channels),
	}
}

// Convert implements Converter.
func (a *LinearAdapter) Convert(dst []float32, in codec.Frame) (int, error) {
	channels := deinterleaveChannels(a.cfg, in)

	outLen := in.NumSamples
	if a.compRemaining > 0 {
		portion := in.NumSamples
		if portion > a.compRemaining {
			portion = a.compRemaining
		}
		extra := a.compDiff * portion / a.compRemaining
		outLen = in.NumSamples + extra
		a.compRemaining -= portion
		a.compDiff -= extra
	}
	if outLen < 0 {
		outLen = 0
	}

	resampled := make([][]float32, len(channels))
	for c, ch := range channels {
		carry := float32(0)
		if c < len(a.carry) {
			carry = a.carry[c]
		}
		resampled[c] = resampleToLength(ch, outLen, &carry)
		if c < len(a.carry) {
			a.carry[c] = carry
		}
	}

	written := interleave(dst, resampled)
	a.delay = outLen - written
	return written, nil
}

// Delay implements Converter. LinearAdapter keeps no output back, so this
// reports the output samples the previous Convert dropped because dst was
// too small.
func (a *LinearAdapter) Delay() int {
	if a.delay < 0 {
		return 0
	}
	return a.delay
}

// SetCompensation implements Converter. Any in-flight ramp is replaced
// wholesale by the new one, matching swr_set_compensation's semantics of
// overriding rather than stacking.
func (a *LinearAdapter) SetCompensation(diff, distance int) error {
	if distance <= 0 {
		return nil
	}
	a.compDiff = diff
	a.compRemaining = distance
	return nil
}

// Close implements Converter. LinearAdapter holds no external resources.
func (a *LinearAdapter) Close() error { return nil }
