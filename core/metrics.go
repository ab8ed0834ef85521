package core

import (
	"context"
	"sync"
)

// Service operations emit one counter and one duration histogram each,
// named "inbox.<operation>.total" and "inbox.<operation>.duration_ms".
func operationCounterName(operation string) string {
	return "inbox." + operation + ".total"
}

func operationDurationName(operation string) string {
	return "inbox." + operation + ".duration_ms"
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// MemoryMetricsRecorder accumulates counters and histogram samples in
// memory. Tests use it to assert which instruments an operation touched.
type MemoryMetricsRecorder struct {
	mu       sync.Mutex
	counters map[string]int64
	samples  map[string]int
}

func NewMemoryMetricsRecorder() *MemoryMetricsRecorder {
	return &MemoryMetricsRecorder{
		counters: map[string]int64{},
		samples:  map[string]int{},
	}
}

func (m *MemoryMetricsRecorder) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

func (m *MemoryMetricsRecorder) ObserveHistogram(_ context.Context, name string, _ float64, _ map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[name]++
}

// CounterValue returns the accumulated value for a counter name.
func (m *MemoryMetricsRecorder) CounterValue(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// SampleCount returns how many observations a histogram received.
func (m *MemoryMetricsRecorder) SampleCount(name string) int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples[name]
}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ MetricsRecorder = (*MemoryMetricsRecorder)(nil)
)
