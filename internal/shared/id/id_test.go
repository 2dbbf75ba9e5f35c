package id

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerateWithPrefix(t *testing.T) {
	gen := NewGenerator()

	id := gen.GenerateWithPrefix("exe")
	if !strings.HasPrefix(id, "exe_") {
		t.Fatalf("ID should start with 'exe_', got: %s", id)
	}
	if !IsValid(id) {
		t.Errorf("prefixed ID should parse: %s", id)
	}
}

func TestTypedIDs(t *testing.T) {
	if exe := NewExecutionID(); !strings.HasPrefix(exe.String(), "exe_") {
		t.Errorf("ExecutionID should start with 'exe_', got: %s", exe)
	}
	if req := NewRequestID(); !strings.HasPrefix(req.String(), "req_") {
		t.Errorf("RequestID should start with 'req_', got: %s", req)
	}
}

func TestMonotonicOrdering(t *testing.T) {
	gen := NewGenerator()

	ids := make([]string, 1000)
	for i := range ids {
		ids[i] = gen.Generate().String()
	}
	if !sort.StringsAreSorted(ids) {
		t.Error("IDs generated in sequence should sort in creation order")
	}
}

func TestConcurrentUniqueness(t *testing.T) {
	gen := NewGenerator()

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				id := gen.GenerateWithPrefix(ExecutionPrefix)
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != 1600 {
		t.Errorf("expected 1600 unique IDs, got %d", len(seen))
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, err := Timestamp(NewExecutionID().String())
	if err != nil {
		t.Fatalf("Timestamp() error = %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Errorf("timestamp %v out of range", ts)
	}

	if _, err := Timestamp("exe_not-a-ulid"); err == nil {
		t.Error("expected error for invalid ID")
	}
}
