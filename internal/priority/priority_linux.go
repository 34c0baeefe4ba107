//go:build linux

package priority

import "golang.org/x/sys/unix"

// raise lowers the calling thread's nice value (negative = higher
// priority) via setpriority(2). Lowering the nice value needs
// CAP_SYS_NICE or a sufficient RLIMIT_NICE; without either, setpriority
// fails (EACCES) and raise returns false, which sends Raise on to
// LevelHigh.
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
