package engine

import (
	"sync"

	"github.com/GriffinCanCode/pgexec/internal/shared/id"
)

// history remembers the most recent executions by ID
type history struct {
	mu    sync.RWMutex
	size  int
	order []id.ExecutionID
	byID  map[id.ExecutionID]*Execution
}

func newHistory(size int) *history {
	if size < 0 {
		size = 0
	}
	return &history{size: size, byID: make(map[id.ExecutionID]*Execution)}
}

func (h *history) add(exec *Execution) {
	if h.size == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.order = append(h.order, exec.ID)
	h.byID[exec.ID] = exec
	for len(h.order) > h.size {
		delete(h.byID, h.order[0])
		h.order = h.order[1:]
	}
}

func (h *history) get(execID id.ExecutionID) (*Execution, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	exec, ok := h.byID[execID]
	return exec, ok
}

// recent returns up to n executions, newest first
func (h *history) recent(n int) []*Execution {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.order) {
		n = len(h.order)
	}
	out := make([]*Execution, 0, n)
	for i := len(h.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, h.byID[h.order[i]])
	}
	return out
}
