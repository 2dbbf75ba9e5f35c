package sandbox

import (
	"runtime/metrics"
	"time"
)

const heapMetric = "/memory/classes/heap/objects:bytes"

const bytesPerMB = 1024 * 1024

// sample captures wall clock, CPU time and heap size before an execution
type sample struct {
	start time.Time
	cpu   time.Duration
	heap  uint64
}

func startSample() sample {
	return sample{
		start: time.Now(),
		cpu:   processCPUTime(),
		heap:  heapBytes(),
	}
}

// finish computes the deltas since the sample was taken. CPU time and heap
// growth are process-wide: in a worker they belong to the one script, in
// process concurrent executions inflate each other's figures.
func (s sample) finish() Metrics {
	m := Metrics{
		WallTimeMs: durationMs(time.Since(s.start)),
		CPUTimeMs:  durationMs(processCPUTime() - s.cpu),
	}
	if after := heapBytes(); after > s.heap {
		m.MemoryUsedMB = float64(after-s.heap) / bytesPerMB
	}
	if m.CPUTimeMs < 0 {
		m.CPUTimeMs = 0
	}
	return m
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// heapBytes reads live heap object bytes without stopping the world
func heapBytes() uint64 {
	s := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s[0].Value.Uint64()
}
