// Package device defines the audio-device contract the playback core
// drives and a malgo-backed implementation of it, grounded on
// agalue/voice-assistant/internal/audio/playback.go's initDevice.
package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Spec describes the device configuration the core wants to open,
// mirroring spec.md §6's desired-spec fields.
type Spec struct {
	SampleRate      uint32
	Channels        uint32
	OutputBlockSize uint32 // device callback granularity, in samples
	BufferMs        uint32 // hint for the backend's internal buffering

	// DataCallback is invoked by the device's real-time thread to pull
	// output samples. out must be filled completely (len(out) bytes);
	// the device never accepts a short fill.
	DataCallback func(out []byte)
}

// Device is the contract the playback core consumes: open, lock/unlock
// around ring-buffer and moving-average mutations shared with the
// callback, pause, and close.
//
// miniaudio's callback model (unlike SDL's SDL_LockAudioDevice) has no
// native lock/unlock entry points, so MalgoDevice supplies the device
// lock itself via a mutex taken both by the data callback and by the
// producer — preserving the spec's "device lock serializes all
// ring-cursor mutations and all avg mutations" invariant while adapting
// it to the library this module actually uses.
type Device interface {
	Lock()
	Unlock()
	Pause(paused bool) error
	Close() error
}

// MalgoDevice is a Device backed by github.com/gen2brain/malgo.
type MalgoDevice struct {
	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	mu     sync.Mutex
	paused bool
}

// Open initializes a malgo playback context and device per spec, and
// unpauses it (starts it) before returning, matching
// sc_audio_player_frame_sink_open's SDL_PauseAudioDevice(ap->device, 0)
// at the end of a successful open.
func Open(spec Spec) (*MalgoDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: failed to initialize audio context: %w", err)
	}

	d := &MalgoDevice{ctx: ctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = spec.Channels
	deviceConfig.SampleRate = spec.SampleRate
	deviceConfig.PeriodSizeInFrames = spec.OutputBlockSize
	if spec.BufferMs > 0 {
		deviceConfig.PeriodSizeInMilliseconds = spec.BufferMs
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSample []byte, frameCount uint32) {
			d.mu.Lock()
			defer d.mu.Unlock()
			spec.DataCallback(pOutputSample)
		},
	}

	mdev, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("device: failed to initialize playback device: %w", err)
	}
	d.dev = mdev

	if err := mdev.Start(); err != nil {
		mdev.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("device: failed to start playback device: %w", err)
	}

	return d, nil
}

// Lock acquires the device lock. The producer must hold it around
// ring-cursor and moving-average mutations shared with the data
// callback; the callback itself holds it for its whole invocation.
func (d *MalgoDevice) Lock() { d.mu.Lock() }

// Unlock releases the device lock.
func (d *MalgoDevice) Unlock() { d.mu.Unlock() }

// Pause starts or stops the device.
func (d *MalgoDevice) Pause(paused bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if paused == d.paused {
		return nil
	}
	var err error
	if paused {
		err = d.dev.Stop()
	} else {
		err = d.dev.Start()
	}
	if err != nil {
		return fmt.Errorf("device: pause(%v) failed: %w", paused, err)
	}
	d.paused = paused
	return nil
}

// Close pauses and releases the device, matching
// sc_audio_player_frame_sink_close's pause-then-close ordering.
func (d *MalgoDevice) Close() error {
	if d.dev != nil {
		_ = d.dev.Stop()
		d.dev.Uninit()
		d.dev = nil
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
	return nil
}
