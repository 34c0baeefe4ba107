// Package config provides configuration and CLI argument parsing for the
// audiopipe demo harness.
package config

import (
	"flag"
	"fmt"
)

// Engine selects which resample.Converter implementation the playback
// core is built with.
type Engine int

const (
	// EngineLinear uses the dependency-free linear-interpolation
	// resampler.
	EngineLinear Engine = iota
	// EngineSoxr uses the soxr-backed resampler for higher quality.
	EngineSoxr
)

// String returns the flag value for this engine.
func (e Engine) String() string {
	switch e {
	case EngineLinear:
		return "linear"
	case EngineSoxr:
		return "soxr"
	default:
		return "unknown"
	}
}

// ParseEngine converts a flag value to an Engine.
func ParseEngine(s string) (Engine, error) {
	switch s {
	case "linear":
		return EngineLinear, nil
	case "soxr":
		return EngineSoxr, nil
	default:
		return EngineLinear, fmt.Errorf("invalid resampler engine: %s (must be 'linear' or 'soxr')", s)
	}
}

// Config holds all configuration for the audiopipe demo harness, populated
// from CLI flags or defaults.
type Config struct {
	// SampleRate is the frame source's input sample rate in Hz.
	SampleRate int
	// Channels is the frame source's channel count.
	Channels int

	// TargetBufferingMs is the playback core's steady-state buffering
	// target, in milliseconds.
	TargetBufferingMs int

	// Engine selects the resampler implementation.
	Engine Engine

	// DeviceBufferMs hints the backend's internal device buffer size.
	// 0 lets the backend choose.
	DeviceBufferMs uint32

	// JitterMinMs and JitterMaxMs bound the simulated frame source's
	// per-push scheduling jitter, exercising the underflow/overflow
	// paths instead of a perfectly metronomic producer.
	JitterMinMs int
	JitterMaxMs int

	// DurationSeconds is how long the demo runs before exiting.
	DurationSeconds int

	// Verbose enables per-push trace logging plus underflow, skip and
	// compensation lines.
	Verbose bool
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SampleRate:        48000,
		Channels:          2,
		TargetBufferingMs: 50,
		Engine:            EngineLinear,
		DeviceBufferMs:    0,
		JitterMinMs:       15,
		JitterMaxMs:       35,
		DurationSeconds:   10,
		Verbose:           false,
	}
}

// ParseFlags parses command-line flags and returns a Config.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	flag.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Input sample rate in Hz")
	flag.IntVar(&cfg.Channels, "channels", cfg.Channels, "Channel count")
	flag.IntVar(&cfg.TargetBufferingMs, "target-buffering-ms", cfg.TargetBufferingMs, "Steady-state buffering target in milliseconds")

	var engineStr string
	flag.StringVar(&engineStr, "engine", cfg.Engine.String(), "Resampler engine: 'linear' or 'soxr'")

	deviceBufferMs := flag.Uint("device-buffer-ms", uint(cfg.DeviceBufferMs), "Device buffer size hint in ms (0 = backend default)")

	flag.IntVar(&cfg.JitterMinMs, "jitter-min-ms", cfg.JitterMinMs, "Minimum simulated producer jitter in ms")
	flag.IntVar(&cfg.JitterMaxMs, "jitter-max-ms", cfg.JitterMaxMs, "Maximum simulated producer jitter in ms")
	flag.IntVar(&cfg.DurationSeconds, "duration", cfg.DurationSeconds, "Demo run duration in seconds")

	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	engine, err := ParseEngine(engineStr)
	if err != nil {
		return nil, err
	}
	cfg.Engine = engine
	cfg.DeviceBufferMs = uint32(*deviceBufferMs)

	if cfg.JitterMaxMs < cfg.JitterMinMs {
		return nil, fmt.Errorf("jitter-max-ms (%d) must be >= jitter-min-ms (%d)", cfg.JitterMaxMs, cfg.JitterMinMs)
	}

	return cfg, nil
}
