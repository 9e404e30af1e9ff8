package rpc

import (
	"sort"
	"sync"
	"time"
)

// Metrics collects per-operation counters for the daemon's lifetime.
// Latency samples are bounded per operation; old samples rotate out.
type Metrics struct {
	mu sync.RWMutex

	requestCounts  map[string]int64
	requestErrors  map[string]int64
	requestLatency map[string][]time.Duration
	maxSamples     int

	startTime time.Time
}

// NewMetrics creates a metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCounts:  make(map[string]int64),
		requestErrors:  make(map[string]int64),
		requestLatency: make(map[string][]time.Duration),
		maxSamples:     1000,
		startTime:      time.Now(),
	}
}

// RecordRequest tallies one handled operation.
func (m *Metrics) RecordRequest(operation string, latency time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCounts[operation]++
	if failed {
		m.requestErrors[operation]++
	}
	samples := append(m.requestLatency[operation], latency)
	if len(samples) > m.maxSamples {
		samples = samples[len(samples)-m.maxSamples:]
	}
	m.requestLatency[operation] = samples
}

// OpStats summarizes one operation's counters.
type OpStats struct {
	Count  int64   `json:"count"`
	Errors int64   `json:"errors"`
	AvgMS  float64 `json:"avgMs"`
	P95MS  float64 `json:"p95Ms"`
}

// Snapshot is the full metrics payload.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	Operations    map[string]OpStats `json:"operations"`
}

// Snapshot computes the current metrics view.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make(map[string]OpStats, len(m.requestCounts))
	for op, count := range m.requestCounts {
		stats := OpStats{Count: count, Errors: m.requestErrors[op]}
		if samples := m.requestLatency[op]; len(samples) > 0 {
			sorted := make([]time.Duration, len(samples))
			copy(sorted, samples)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			var total time.Duration
			for _, d := range sorted {
				total += d
			}
			stats.AvgMS = float64(total.Microseconds()) / float64(len(sorted)) / 1000
			idx := (len(sorted) * 95) / 100
			if idx >= len(sorted) {
				idx = len(sorted) - 1
			}
			stats.P95MS = float64(sorted[idx].Microseconds()) / 1000
		}
		ops[op] = stats
	}
	return Snapshot{
		UptimeSeconds: time.Since(m.startTime).Seconds(),
		Operations:    ops,
	}
}
