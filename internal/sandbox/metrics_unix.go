//go:build unix

package sandbox

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func processCPUTime() time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}

// childUsage reports CPU time and peak RSS of an exited worker
func childUsage(state *os.ProcessState) (cpu time.Duration, rssMB float64) {
	if state == nil {
		return 0, 0
	}
	cpu = state.UserTime() + state.SystemTime()
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok && ru != nil {
		// Maxrss is reported in KiB on Linux
		rssMB = float64(ru.Maxrss) / 1024
	}
	return cpu, rssMB
}
