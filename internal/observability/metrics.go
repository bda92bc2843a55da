package observability

import (
	"sync"
)

// Metrics provides basic in-memory counters for the worker.
type Metrics struct {
	mu          sync.Mutex
	sweepCount  map[string]int64
	transitions map[string]int64
	dispatches  map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		sweepCount:  make(map[string]int64),
		transitions: make(map[string]int64),
		dispatches:  make(map[string]int64),
	}
}

// RecordSweep increments the iteration counter for a sweep.
func (m *Metrics) RecordSweep(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepCount[name]++
}

// RecordTransition increments the counter for a status transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[from+"->"+to]++
}

// RecordDispatch increments dispatch counters keyed by outcome.
func (m *Metrics) RecordDispatch(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches[outcome]++
}

// Snapshot returns a copy of all counters for the ops endpoint.
func (m *Metrics) Snapshot() map[string]map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]map[string]int64{
		"sweeps":      copyCounters(m.sweepCount),
		"transitions": copyCounters(m.transitions),
		"dispatches":  copyCounters(m.dispatches),
	}
	return out
}

func copyCounters(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
