//go:build !linux && !darwin

package priority

// raise is a no-op on platforms without a wired scheduling knob. Absence
// of elevated priority only affects jitter, never correctness.
func raise(level Level) bool {
	return false
}
