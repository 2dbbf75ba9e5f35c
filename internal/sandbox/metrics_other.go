//go:build !unix

package sandbox

import (
	"os"
	"time"
)

func processCPUTime() time.Duration {
	return 0
}

func childUsage(state *os.ProcessState) (cpu time.Duration, rssMB float64) {
	if state == nil {
		return 0, 0
	}
	return state.UserTime() + state.SystemTime(), 0
}
