package engine

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LatencySummary describes recent execution wall times
type LatencySummary struct {
	Samples int     `json:"samples"`
	MeanMs  float64 `json:"meanMs"`
	P50Ms   float64 `json:"p50Ms"`
	P95Ms   float64 `json:"p95Ms"`
	MaxMs   float64 `json:"maxMs"`
}

// latencyWindow keeps the most recent wall times in a ring
type latencyWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{samples: make([]float64, size)}
}

func (w *latencyWindow) add(ms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = ms
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *latencyWindow) summary() LatencySummary {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	sorted := make([]float64, n)
	copy(sorted, w.samples[:n])
	w.mu.Unlock()

	if n == 0 {
		return LatencySummary{}
	}
	sort.Float64s(sorted)

	return LatencySummary{
		Samples: n,
		MeanMs:  stat.Mean(sorted, nil),
		P50Ms:   stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95Ms:   stat.Quantile(0.95, stat.Empirical, sorted, nil),
		MaxMs:   floats.Max(sorted),
	}
}
