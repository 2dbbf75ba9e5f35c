//go:build !unix

package sandbox

import (
	"os"
	"os/exec"
	"time"
)

func applyLimits(time.Duration) error { return nil }

func configureProcess(*exec.Cmd) {}

func killProcess(p *os.Process) { _ = p.Kill() }
