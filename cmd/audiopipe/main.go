// audiopipe is a demo harness for the adaptive playback core: it
// generates a tone, round-trips it through Opus encode/decode to produce
// a realistic packetized frame stream, then pushes those frames into the
// playback core on a jittery schedule to exercise the underflow,
// overflow, and compensation paths against a real audio device.
package main

import (
	"context"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thesyncim/gopus"

	"github.com/agalue/audiopipe/internal/codec"
	"github.com/agalue/audiopipe/internal/config"
	"github.com/agalue/audiopipe/internal/device"
	"github.com/agalue/audiopipe/internal/playback"
	"github.com/agalue/audiopipe/internal/resample"
)

// frameMs is the Opus frame size used for both encode and decode; 20ms is
// the codec's most common packetization interval.
const frameMs = 20

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	log.Printf("audiopipe starting: rate=%d channels=%d target_buffering=%dms engine=%s",
		cfg.SampleRate, cfg.Channels, cfg.TargetBufferingMs, cfg.Engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	core := playback.New(cfg.TargetBufferingMs, openDevice(cfg), converterFactory(cfg))

	inputCtx := codec.Context{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Format:     codec.FormatFloat32,
		Planar:     false,
	}
	if err := core.Open(inputCtx); err != nil {
		log.Fatalf("Failed to open playback core: %v", err)
	}
	core.SetVerbose(cfg.Verbose)
	defer core.Close()

	source, err := newOpusRoundTripSource(cfg.SampleRate, cfg.Channels)
	if err != nil {
		log.Fatalf("Failed to create frame source: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		runFeed(ctx, cfg, core, source)
	}()

	log.Println("Playing... (Ctrl+C to quit)")

	select {
	case <-sigChan:
		log.Println("Shutting down...")
		cancel()
		<-done
	case <-done:
		log.Println("Demo duration elapsed")
	}
}

// runFeed generates frameMs-sized frames and pushes them to core on a
// jittered schedule until ctx is canceled or the configured duration
// elapses.
func runFeed(ctx context.Context, cfg *config.Config, core *playback.Core, source *opusRoundTripSource) {
	deadline := time.Now().Add(time.Duration(cfg.DurationSeconds) * time.Second)
	frameSamples := cfg.SampleRate * frameMs / 1000

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := source.next(frameSamples)
		if err != nil {
			log.Printf("frame source error: %v", err)
			return
		}
		if err := core.Push(frame); err != nil {
			log.Printf("push error: %v", err)
			return
		}

		jitter := cfg.JitterMinMs
		if cfg.JitterMaxMs > cfg.JitterMinMs {
			jitter += rand.Intn(cfg.JitterMaxMs - cfg.JitterMinMs + 1)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(jitter) * time.Millisecond):
		}
	}
}

func openDevice(cfg *config.Config) playback.DeviceOpener {
	return func(spec device.Spec) (device.Device, error) {
		spec.BufferMs = cfg.DeviceBufferMs
		return device.Open(spec)
	}
}

func converterFactory(cfg *config.Config) playback.ConverterFactory {
	return func(ctx codec.Context) (resample.Converter, error) {
		switch cfg.Engine {
		case config.EngineSoxr:
			return resample.NewSoxr(ctx.SampleRate, ctx.Channels, ctx.Format, ctx.Planar)
		default:
			return resample.NewLinear(ctx.Channels, ctx.Format, ctx.Planar), nil
		}
	}
}

// opusRoundTripSource generates a continuous tone, encodes it to Opus and
// immediately decodes it back, so the demo pushes realistically lossy,
// quantized frames instead of a synthetic float stream.
type opusRoundTripSource struct {
	sampleRate int
	channels   int
	enc        *gopus.Encoder
	dec        *gopus.Decoder
	phase      float64
}

func newOpusRoundTripSource(sampleRate, channels int) (*opusRoundTripSource, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.ApplicationAudio)
	if err != nil {
		return nil, err
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &opusRoundTripSource{sampleRate: sampleRate, channels: channels, enc: enc, dec: dec}, nil
}

// next synthesizes n samples of a 440Hz tone per channel, round-trips
// them through Opus, and returns an interleaved float32 Frame.
func (s *opusRoundTripSource) next(n int) (codec.Frame, error) {
	pcm := make([]float32, n*s.channels)
	const freq = 440.0
	step := 2 * math.Pi * freq / float64(s.sampleRate)
	for i := 0; i < n; i++ {
		v := float32(0.2 * math.Sin(s.phase))
		for c := 0; c < s.channels; c++ {
			pcm[i*s.channels+c] = v
		}
		s.phase += step
	}

	packet, err := s.enc.EncodeFloat32(pcm)
	if err != nil {
		return codec.Frame{}, err
	}
	decoded, err := s.dec.DecodeFloat32(packet)
	if err != nil {
		return codec.Frame{}, err
	}

	buf := make([]byte, len(decoded)*4)
	for i, v := range decoded {
		bits := math.Float32bits(v)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}

	return codec.Frame{
		Planes:     [][]byte{buf},
		NumSamples: len(decoded) / s.channels,
	}, nil
}

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)
}
