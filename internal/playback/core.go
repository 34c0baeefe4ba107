// Package playback implements the adaptive audio playback core: the
// frame-sink that reconciles a bursty, network-paced frame producer with
// a fixed-rate audio device callback via a sample ring, a smoothed
// buffering-depth average, and a periodic clock-compensation recompute.
//
// Structurally this generalizes agalue/voice-assistant/internal/audio's
// Player (persistent device, ring buffer, mutex discipline around the
// callback). Algorithmically it implements the push/pull logic of
// original_source/app/src/audio_player.c (scrcpy's sc_audio_player), the
// producer/consumer compensation loop this package distills into Go.
package playback

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"

	"github.com/agalue/audiopipe/internal/average"
	"github.com/agalue/audiopipe/internal/codec"
	"github.com/agalue/audiopipe/internal/device"
	"github.com/agalue/audiopipe/internal/priority"
	"github.com/agalue/audiopipe/internal/resample"
	"github.com/agalue/audiopipe/internal/ring"
)

const (
	// marginMs is the slack the initial-buffering gate leaves for the
	// compensation loop to close, rather than waiting for the full
	// target before unmuting (spec.md §4.4, §9).
	marginMs = 30

	// outputBlockMs is the device callback granularity.
	outputBlockMs = 5

	// avgWindow is the moving-average window, in observations.
	avgWindow = 32

	// scratchHeadroomSamples is extra room past delay+input for the
	// resampler to emit when accelerating.
	scratchHeadroomSamples = 256

	// scratchGrowthBytes is flat headroom added on top of a scratch
	// grow, so repeated small growths don't thrash the allocator.
	scratchGrowthBytes = 4096

	// compensationDistanceSeconds is how many seconds of output the
	// periodic recompute spreads its correction over.
	compensationDistanceSeconds = 4

	// compensationMaxFraction caps the compensation rate at 1/50 (2%).
	compensationMaxFraction = 50
)

var (
	// ErrNotOpen is returned by Push/Close when called before a
	// successful Open.
	ErrNotOpen = errors.New("playback: not open")
	// ErrAlreadyOpen is returned by Open when called on a core that is
	// already open.
	ErrAlreadyOpen = errors.New("playback: already open")
)

// ConverterFactory builds the Resampler adapter for a session, given the
// negotiated input format. Injected so tests can supply a fake.
type ConverterFactory func(ctx codec.Context) (resample.Converter, error)

// DeviceOpener opens the audio device for a session. Injected so tests
// can supply an in-memory fake instead of a real malgo device.
type DeviceOpener func(spec device.Spec) (device.Device, error)

// Core is the playback core: the frame-sink the frame source drives via
// Open/Push/Close, and the pull callback the audio device drives.
type Core struct {
	targetBufferingDelayMs int
	opener                 DeviceOpener
	newConverter           ConverterFactory
	verbose                bool

	// Fixed for the session, set by Open.
	sampleRate      int
	channels        int
	bytesPerSample  int
	sampleSize      int // bytes per interleaved frame
	targetBuffering uint64

	ring *ring.SampleRing
	avg  *average.MovingAverage
	conv resample.Converter
	dev  device.Device

	received atomic.Bool
	played   atomic.Bool

	samplesSinceResync uint64
	previousCanWrite   uint64

	scratch         []float32
	scratchCapBytes uint64
}

// New creates a PlaybackCore. targetBufferingDelayMs is the desired
// steady-state buffering target, in milliseconds — spec.md's "generic
// tick unit" resolved to milliseconds for this implementation (an open
// question the spec leaves to the implementer). Resource acquisition is
// deferred to Open.
func New(targetBufferingDelayMs int, opener DeviceOpener, newConverter ConverterFactory) *Core {
	return &Core{
		targetBufferingDelayMs: targetBufferingDelayMs,
		opener:                 opener,
		newConverter:           newConverter,
	}
}

// SetVerbose enables the Verbose-gated trace lines, after the teacher's
// Verbose-gated log lines and the original's SC_AUDIO_PLAYER_NDEBUG-gated
// traces: one line per push, plus a line for each underflow, each
// buffering-threshold skip and each compensation recompute. A pull served
// in full logs nothing.
func (c *Core) SetVerbose(v bool) { c.verbose = v }

// Open acquires the audio device, sizes the ring at target buffering + 1
// second, configures the resampler for codec.Context's input format into
// interleaved float32 output at the same sample rate, and unpauses the
// device. On failure all partial resources are released.
func (c *Core) Open(ctx codec.Context) error {
	if c.dev != nil {
		return ErrAlreadyOpen
	}
	if err := ctx.Validate(); err != nil {
		return err
	}

	c.sampleRate = ctx.SampleRate
	c.channels = ctx.Channels
	c.bytesPerSample = codec.FormatFloat32.BytesPerSample()
	c.sampleSize = c.channels * c.bytesPerSample
	c.targetBuffering = uint64(c.targetBufferingDelayMs) * uint64(c.sampleRate) / 1000

	conv, err := c.newConverter(ctx)
	if err != nil {
		return fmt.Errorf("playback: resampler init failed: %w", err)
	}

	ringCapacity := c.targetBuffering + uint64(c.sampleRate)
	c.ring = ring.New(c.sampleSize, ringCapacity)
	c.previousCanWrite = c.ring.CanWrite()

	c.avg = average.New(avgWindow)
	c.samplesSinceResync = 0
	c.received.Store(false)
	c.played.Store(false)

	blockSamples := uint32(outputBlockMs * c.sampleRate / 1000)
	dev, err := c.opener(device.Spec{
		SampleRate:      uint32(c.sampleRate),
		Channels:        uint32(c.channels),
		OutputBlockSize: blockSamples,
		DataCallback:    c.pullCallback,
	})
	if err != nil {
		_ = conv.Close()
		c.ring = nil
		return fmt.Errorf("playback: device open failed: %w", err)
	}
	c.dev = dev
	c.conv = conv

	// The goroutine calling Open is the one that will call every Push;
	// lock it to its OS thread so the priority raise below sticks.
	runtime.LockOSThread()
	priority.Raise()

	if c.verbose {
		log.Printf("[playback] opened: rate=%d channels=%d target_buffering=%d ring_capacity=%d",
			c.sampleRate, c.channels, c.targetBuffering, ringCapacity)
	}

	return nil
}

// Push is the producer entry point: resample the frame, publish it into
// the ring (lockless when possible), apply the overflow/initial-buffering
// policy, and recompute compensation once per second of output.
func (c *Core) Push(frame codec.Frame) error {
	if c.dev == nil {
		return ErrNotOpen
	}

	delay := c.conv.Delay()
	needFrames := delay + frame.NumSamples + scratchHeadroomSamples
	c.growScratch(needFrames)

	written, err := c.conv.Convert(c.scratch, frame)
	if err != nil {
		return fmt.Errorf("playback: resample failed: %w", err)
	}
	samplesWritten := uint64(written)
	scratchBytes := encodeFloat32(c.scratch[:written*c.channels])

	lockless := samplesWritten <= c.previousCanWrite
	if lockless {
		c.ring.PrepareWrite(scratchBytes, samplesWritten)
	}

	c.dev.Lock()

	buffered := c.ring.CanRead()

	if lockless {
		c.ring.CommitWrite(samplesWritten)
	} else {
		canWrite := c.ring.CanWrite()
		srcOffsetSamples := uint64(0)
		if samplesWritten > canWrite {
			cap := c.ring.Capacity()
			if samplesWritten > cap {
				// A single frame larger than the entire ring: advance
				// past the unplayable prefix before anything else.
				srcOffsetSamples = samplesWritten - cap
				samplesWritten = cap
			}
			if samplesWritten > canWrite {
				skipSamples := samplesWritten - canWrite
				c.ring.Skip(skipSamples)
				buffered -= skipSamples
				if c.played.Load() {
					c.avg.Avg -= float64(skipSamples)
				}
			}
		}
		c.ring.Write(scratchBytes[srcOffsetSamples*uint64(c.sampleSize):], samplesWritten)
	}

	buffered += samplesWritten
	played := c.played.Load()

	if played {
		maxBuffered := c.targetBuffering +
			12*outputBlockMs*uint64(c.sampleRate)/1000 +
			c.targetBuffering/10
		if buffered > maxBuffered {
			skip := buffered - maxBuffered
			c.ring.Skip(skip)
			if c.verbose {
				log.Printf("[playback] buffering threshold exceeded, skipping %d samples", skip)
			}
		}

		instantCompensation := int64(samplesWritten) - int64(frame.NumSamples)
		c.avg.Avg += float64(instantCompensation)
		c.avg.Push(float64(buffered))

		if c.verbose {
			log.Printf("[playback] buffered=%d avg=%.1f", buffered, c.avg.Get())
		}
	} else {
		maxInitial := c.targetBuffering + 2*outputBlockMs*uint64(c.sampleRate)/1000
		if buffered > maxInitial {
			skip := buffered - maxInitial
			c.ring.Skip(skip)
			if c.verbose {
				log.Printf("[playback] playback not started, skipping %d samples", skip)
			}
		}
	}

	c.previousCanWrite = c.ring.CanWrite()
	c.received.Store(true)

	c.dev.Unlock()

	if played {
		c.samplesSinceResync += samplesWritten
		if c.samplesSinceResync >= uint64(c.sampleRate) {
			c.samplesSinceResync = 0
			c.recompensate(buffered)
		}
	}

	return nil
}

// recompensate recomputes the resampler's compensation ramp from the
// smoothed buffering average, once per second of output (spec.md §4.4
// step 12).
func (c *Core) recompensate(buffered uint64) {
	avg := c.avg.Get()
	diff := int(float64(c.targetBuffering) - avg)
	if diff < 0 && buffered < c.targetBuffering {
		// Don't accelerate if the instantaneous level already reads
		// low — that would only deepen an underflow.
		diff = 0
	}

	distance := compensationDistanceSeconds * c.sampleRate
	maxAbs := distance / compensationMaxFraction
	if diff > maxAbs {
		diff = maxAbs
	} else if diff < -maxAbs {
		diff = -maxAbs
	}

	if c.verbose {
		log.Printf("[playback] buffering: target=%d avg=%.1f cur=%d compensation=%d",
			c.targetBuffering, avg, buffered, diff)
	}

	if err := c.conv.SetCompensation(diff, distance); err != nil {
		log.Printf("[playback] compensation failed: %v", err)
	}
}

// pullCallback is the device-driven consumer entry point. It is invoked
// by Device already holding the device lock, so it performs only memcpy
// and fixed-size arithmetic: no allocation, no resampler call, no
// blocking beyond the lock the caller already holds.
func (c *Core) pullCallback(stream []byte) {
	count := c.ring.ToSamples(uint64(len(stream)))

	bufferedSamples := c.ring.CanRead()

	if !c.played.Load() {
		margin := uint64(marginMs * c.sampleRate / 1000)
		if bufferedSamples+margin < c.targetBuffering {
			zeroBytes(stream)
			return
		}
	}

	read := bufferedSamples
	if read > count {
		read = count
	}
	if read > 0 {
		c.ring.Read(stream, read)
	}

	if read < count {
		silence := count - read
		zeroBytes(stream[read*uint64(c.sampleSize):])
		if c.received.Load() {
			c.avg.Avg += float64(silence)
		}
		if c.verbose {
			log.Printf("[playback] underflow, inserting silence: %d samples", silence)
		}
	}

	c.played.Store(true)
}

// growScratch ensures the scratch buffer can hold at least needFrames
// interleaved samples, growing by a flat 4096-byte headroom the way
// sc_audio_player_get_swr_buf reallocs — not rounding to a multiple, just
// adding slack so repeated small growths don't reallocate every push.
func (c *Core) growScratch(needFrames int) {
	if needFrames < 0 {
		needFrames = 0
	}
	neededBytes := uint64(needFrames) * uint64(c.sampleSize)
	if neededBytes > c.scratchCapBytes {
		newBytes := neededBytes + scratchGrowthBytes
		c.scratch = make([]float32, newBytes/4)
		c.scratchCapBytes = newBytes
	}
}

// Close pauses and releases the device, frees the resampler, and drops
// the ring and scratch buffer.
func (c *Core) Close() error {
	if c.dev == nil {
		return ErrNotOpen
	}
	if err := c.dev.Pause(true); err != nil && c.verbose {
		log.Printf("[playback] pause on close failed: %v", err)
	}
	err := c.dev.Close()
	c.dev = nil

	if c.conv != nil {
		_ = c.conv.Close()
		c.conv = nil
	}
	c.scratch = nil
	c.scratchCapBytes = 0
	c.ring = nil

	return err
}
