package average

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestIdenticalObservationsConverge(t *testing.T) {
	m := New(32)
	for i := 0; i < 32; i++ {
		m.Push(2400)
	}
	assert.InDelta(t, 2400.0, m.Get(), 1e-9, "mean of W identical observations must equal that value exactly")
}

func TestDirectAdjustmentIsImmediate(t *testing.T) {
	m := New(32)
	for i := 0; i < 32; i++ {
		m.Push(1000)
	}
	m.Avg += 240 // e.g. underflow silence inserted
	assert.InDelta(t, 1240.0, m.Get(), 1e-9, "direct adjustment to Avg must be visible without a Push")
}

// TestConvergesTowardRepeatedValue checks that, for any window and any
// repeated observation, pushing the window size worth of that value into a
// fresh average converges exactly onto it.
func TestConvergesTowardRepeatedValue(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		window := rapid.IntRange(1, 256).Draw(t, "window")
		value := rapid.Float64Range(-1e6, 1e6).Draw(t, "value")

		m := New(window)
		for i := 0; i < window; i++ {
			m.Push(value)
		}
		assert.InDelta(t, value, m.Get(), 1e-6)
	})
}
