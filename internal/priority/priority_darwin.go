//go:build darwin

package priority

import "golang.org/x/sys/unix"

// raise uses the same setpriority(2) best-effort path as linux. macOS
// additionally offers Mach thread policies for truly time-constraint
// scheduling, but that requires cgo bindings this module doesn't carry;
// setpriority is the portable subset available via golang.org/x/sys/unix.
func raise(level Level) bool {
	nice := 0
	switch level {
	case LevelTimeCritical:
		nice = -15
	case LevelHigh:
		nice = -5
	default:
		return true
	}
	return unix.Setpriority(unix.PRIO_PROCESS, 0, nice) == nil
}
