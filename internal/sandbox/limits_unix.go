//go:build unix

package sandbox

import (
	"math"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// applyLimits caps the worker's CPU seconds and forbids file writes.
// RLIMIT_CPU is a backstop; the host watchdog normally fires first.
func applyLimits(timeout time.Duration) error {
	cpu := uint64(math.Ceil(timeout.Seconds())) + 1
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu + 1}); err != nil {
		return err
	}
	return unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: 0, Max: 0})
}

// configureProcess puts the worker in its own process group so a kill
// reaches anything it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcess(p *os.Process) {
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil {
		_ = p.Kill()
	}
}
