package resample

import (
	"bufio"
	"bytes"
	"fmt"

	soxr "github.com/zaf/resample"

	"github.com/agalue/audiopipe/internal/codec"
)

// SoxrAdapter is a Converter backed by github.com/zaf/resample (SoX's
// resampler), grounded on drgolem/musictools/cmd/transform.go's
// resampleAudio helper. Where that helper runs one soxr session per file
// conversion, SoxrAdapter keeps a session open across pushes and only
// recreates it when a compensation ramp changes the effective output
// rate soxr was constructed with — soxr.New bakes the rate pair into the
// session, so there is no finer-grained knob to nudge mid-stream.
//
// soxr operates on 16-bit PCM; samples are quantized to int16 going in
// and expanded back to float32 coming out, trading a small amount of
// dynamic range for the higher-quality resampling kernel.
type SoxrAdapter struct {
	cfg        channelConfig
	sampleRate int

	out *bytes.Buffer
	w   *bufio.Writer
	eng *soxr.Resampler

	curOutRate float64

	compDiff      int
	compRemaining int
}

// NewSoxr creates a SoxrAdapter for the given channel layout, input
// format, and nominal sample rate (input and output rates start equal —
// the core only wants format unification plus drift compensation, not a
// real rate conversion).
func NewSoxr(sampleRate, channels int, format codec.SampleFormat, planar bool) (*SoxrAdapter, error) {
	a := &SoxrAdapter{
		cfg:        channelConfig{channels: channels, format: format, planar: planar},
		sampleRate: sampleRate,
		out:        new(bytes.Buffer),
	}
	if err := a.openSession(float64(sampleRate)); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *SoxrAdapter) openSession(outRate float64) error {
	a.w = bufio.NewWriter(a.out)
	eng, err := soxr.New(a.w, float64(a.sampleRate), outRate, a.cfg.channels, soxr.I16, soxr.HighQ)
	if err != nil {
		return fmt.Errorf("resample: failed to create soxr session: %w", err)
	}
	a.eng = eng
	a.curOutRate = outRate
	return nil
}

// Convert implements Converter.
func (a *SoxrAdapter) Convert(dst []float32, in codec.Frame) (int, error) {
	channels := deinterleaveChannels(a.cfg, in)
	pcm := interleaveToInt16(channels, in.NumSamples, a.cfg.channels)

	if a.compRemaining > 0 {
		portion := in.NumSamples
		if portion > a.compRemaining {
			portion = a.compRemaining
		}
		desiredRate := float64(a.sampleRate) + float64(a.sampleRate)*float64(a.compDiff)/float64(a.compRemaining)
		if desiredRate != a.curOutRate {
			if err := a.reopen(desiredRate); err != nil {
				return 0, err
			}
		}
		a.compDiff -= a.compDiff * portion / a.compRemaining
		a.compRemaining -= portion
	} else if a.curOutRate != float64(a.sampleRate) {
		if err := a.reopen(float64(a.sampleRate)); err != nil {
			return 0, err
		}
	}

	if _, err := a.eng.Write(pcm); err != nil {
		return 0, fmt.Errorf("resample: soxr write failed: %w", err)
	}
	if err := a.w.Flush(); err != nil {
		return 0, fmt.Errorf("resample: soxr flush failed: %w", err)
	}

	frameBytes := 2 * a.cfg.channels
	framesAvail := a.out.Len() / frameBytes
	capFrames := len(dst) / a.cfg.channels
	toRead := framesAvail
	if toRead > capFrames {
		toRead = capFrames
	}
	if toRead == 0 {
		return 0, nil
	}

	raw := make([]byte, toRead*frameBytes)
	if _, err := a.out.Read(raw); err != nil {
		return 0, fmt.Errorf("resample: reading soxr output: %w", err)
	}
	decodeInt16Interleaved(dst, raw)
	return toRead, nil
}

// reopen recreates the soxr session at a new output rate, flushing and
// closing the old one first. Unread output samples already in a.out are
// preserved across the swap.
func (a *SoxrAdapter) reopen(outRate float64) error {
	if a.eng != nil {
		_ = a.w.Flush()
		_ = a.eng.Close()
		_ = a.w.Flush()
	}
	leftover := a.out.Bytes()
	carried := make([]byte, len(leftover))
	copy(carried, leftover)
	a.out.Reset()
	a.out.Write(carried)
	return a.openSession(outRate)
}

// Delay implements Converter: samples already produced by soxr but not
// yet drained by Convert.
func (a *SoxrAdapter) Delay() int {
	return a.out.Len() / (2 * a.cfg.channels)
}

// SetCompensation implements Converter.
func (a *SoxrAdapter) SetCompensation(diff, distance int) error {
	if distance <= 0 {
		return nil
	}
	a.compDiff = diff
	a.compRemaining = distance
	return nil
}

// Close implements Converter.
func (a *SoxrAdapter) Close() error {
	if a.eng == nil {
		return nil
	}
	_ = a.w.Flush()
	return a.eng.Close()
}

func interleaveToInt16(channels [][]float32, numSamples, nChannels int) []byte {
	out := make([]byte, numSamples*nChannels*2)
	for i := 0; i < numSamples; i++ {
		for c := 0; c < nChannels; c++ {
			var v float32
			if c < len(channels) && i < len(channels[c]) {
				v = channels[c][i]
			}
			s := int16(clampFloat(v) * 32767.0)
			idx := (i*nChannels + c) * 2
			out[idx] = byte(uint16(s))
			out[idx+1] = byte(uint16(s) >> 8)
		}
	}
	return out
}

func decodeInt16Interleaved(dst []float32, raw []byte) {
	n := len(raw) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		v := int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		dst[i] = float32(v) / 32768.0
	}
}

func clampFloat(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}
