// Package resample adapts an external resampling engine to the contract
// the playback core needs: accept an input frame (planar or interleaved,
// in one of a few PCM encodings) and emit an interleaved float32 output
// frame of possibly different length, plus an incremental clock-
// compensation knob (diff samples spread over distance samples) the core
// uses to track the audio device's drift.
//
// Two engines are provided: LinearAdapter, a dependency-free linear
// interpolator in the style of the teacher's internal/audio resampler,
// extended with compensation and delay tracking; and SoxrAdapter, which
// wraps github.com/zaf/resample (SoX's resampler) for higher output
// quality at the cost of a slightly coarser compensation granularity.
package resample

import (
	"math"

	"github.com/agalue/audiopipe/internal/codec"
)

// Converter is the contract the playback core drives. The core never
// inspects an implementation's internals — it only calls these four
// methods.
type Converter interface {
	// Convert decodes in.Planes (in.NumSamples samples per channel, in
	// the format and planarity the Converter was constructed with) and
	// writes interleaved float32 samples to dst. written is clamped to
	// len(dst)/channels even if the engine would have produced more —
	// callers must size dst generously (delay + input + headroom) to
	// avoid losing samples this way.
	Convert(dst []float32, in codec.Frame) (written int, err error)

	// Delay returns the number of samples currently buffered inside the
	// engine (not yet emitted), in terms of the output sample rate.
	Delay() int

	// SetCompensation instructs the engine to skew its output by diff
	// samples (signed) spread over the next distance samples; both
	// adapters in this package count distance in input samples consumed
	// by Convert. distance must be positive. A failure here is never fatal to the
	// caller; spec treats it as a logged warning.
	SetCompensation(diff, distance int) error

	// Close releases any engine-internal resources.
	Close() error
}

// channelConfig is shared setup both adapters need.
type channelConfig struct {
	channels int
	format   codec.SampleFormat
	planar   bool
}

func decodePlane(format codec.SampleFormat, data []byte) []float32 {
	bps := format.BytesPerSample()
	if bps == 0 || len(data) < bps {
		return nil
	}
	n := len(data) / bps
	out := make([]float32, n)
	switch format {
	case codec.FormatS16:
		for i := 0; i < n; i++ {
			v := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
			out[i] = float32(v) / 32768.0
		}
	case codec.FormatS32:
		for i := 0; i < n; i++ {
			v := int32(uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24)
			out[i] = float32(v) / 2147483648.0
		}
	case codec.FormatFloat32:
		for i := 0; i < n; i++ {
			bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
			out[i] = math.Float32frombits(bits)
		}
	}
	return out
}

// deinterleaveChannels splits a Frame into per-channel float32 slices,
// honoring both the planar and non-planar layouts described in
// codec.Context.
func deinterleaveChannels(cfg channelConfig, in codec.Frame) [][]float32 {
	channels := make([][]float32, cfg.channels)

	if cfg.planar {
		for c := 0; c < cfg.channels && c < len(in.Planes); c++ {
			channels[c] = decodePlane(cfg.format, in.Planes[c])
		}
		return channels
	}

	if len(in.Planes) == 0 {
		return channels
	}
	flat := decodePlane(cfg.format, in.Planes[0])
	for c := 0; c < cfg.channels; c++ {
		ch := make([]float32, in.NumSamples)
		for i := 0; i < in.NumSamples && i*cfg.channels+c < len(flat); i++ {
			ch[i] = flat[i*cfg.channels+c]
		}
		channels[c] = ch
	}
	return channels
}

// interleave writes per-channel float32 samples into dst, interleaved,
// returning the number of frames actually written (clamped to dst's
// capacity).
func interleave(dst []float32, channels [][]float32) int {
	if len(channels) == 0 {
		return 0
	}
	n := len(channels[0])
	maxFrames := len(dst) / len(channels)
	if n > maxFrames {
		n = maxFrames
	}
	for i := 0; i < n; i++ {
		for c, ch := range channels {
			if i < len(ch) {
				dst[i*len(channels)+c] = ch[i]
			}
		}
	}
	return n
}

// resampleToLength maps input onto exactly outLen samples using linear
// interpolation within input. It stores the last input sample in *carry;
// the stored value is read only when input is empty, in which case every
// output sample repeats it. Interpolation does not reach back across the
// call boundary. This is the teacher's Resample() algorithm
// generalized to take the output length directly rather than deriving it
// from a fromRate/toRate ratio — the generalization that lets the caller
// drive the length from the compensation ramp instead of a fixed rate.
func resampleToLength(input []float32, outLen int, carry *float32) []float32 {
	inputLen := len(input)
	if outLen <= 0 {
		if inputLen > 0 {
			*carry = input[inputLen-1]
		}
		return nil
	}
	if inputLen == 0 {
		out := make([]float32, outLen)
		for i := range out {
			out[i] = *carry
		}
		return out
	}

	ratio := float64(outLen) / float64(inputLen)
	output := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		sample1 := *carry
		if srcIdx < inputLen {
			sample1 = input[srcIdx]
		}

		sample2 := sample1
		if srcIdx+1 < inputLen {
			sample2 = input[srcIdx+1]
		} else if srcIdx < inputLen {
			sample2 = input[inputLen-1]
		}

		output[i] = sample1 + (sample2-sample1)*frac
	}

	*carry = input[inputLen-1]
	return output
}
