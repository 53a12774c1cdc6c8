package core

import (
	"sort"
	"sync"
	"time"
)

const latencyWindow = 256

// PipelineStats tracks per-pipeline message counters and a sliding latency
// window.
type PipelineStats struct {
	mu        sync.Mutex
	processed int64
	failed    int64
	totalNs   int64
	last      time.Time
	latencies [latencyWindow]int64
	count     int
	pos       int
}

// Record adds one handled message to the stats.
func (s *PipelineStats) Record(latency time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if failed {
		s.failed++
	}
	s.totalNs += latency.Nanoseconds()
	s.last = time.Now()
	s.latencies[s.pos] = latency.Nanoseconds()
	s.pos = (s.pos + 1) % latencyWindow
	if s.count < latencyWindow {
		s.count++
	}
}

// Snapshot returns a consistent copy of the counters.
func (s *PipelineStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		MessagesProcessed: s.processed,
		MessagesFailed:    s.failed,
		LastProcessedAt:   s.last,
	}
	if s.processed > 0 {
		snap.AverageLatencyNs = s.totalNs / s.processed
	}
	if s.count == 0 {
		return snap
	}

	window := make([]int64, s.count)
	copy(window, s.latencies[:s.count])
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	snap.P50LatencyNs = window[percentileIndex(s.count, 50)]
	snap.P95LatencyNs = window[percentileIndex(s.count, 95)]
	return snap
}

func percentileIndex(count, percentile int) int {
	idx := count * percentile / 100
	if idx >= count {
		idx = count - 1
	}
	return idx
}

// StatsSnapshot is the JSON form of PipelineStats served by the stats
// endpoint.
type StatsSnapshot struct {
	MessagesProcessed int64     `json:"messages_processed"`
	MessagesFailed    int64     `json:"messages_failed"`
	AverageLatencyNs  int64     `json:"average_latency_ns"`
	P50LatencyNs      int64     `json:"p50_latency_ns"`
	P95LatencyNs      int64     `json:"p95_latency_ns"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
}

// PipelineInfo describes one registered pipeline and its counters.
type PipelineInfo struct {
	Key   string        `json:"key"`
	Kind  string        `json:"kind"`
	Name  string        `json:"name"`
	Stats StatsSnapshot `json:"stats"`
}
