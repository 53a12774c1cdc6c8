package core

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ResourceUsage is the process usage block of the stats endpoint.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// resourceSampler periodically reads coarse process usage, exporting it as
// prometheus gauges and serving the latest snapshot to the stats endpoint.
// CPU percent is derived from /sched/cpu:seconds deltas between samples,
// normalized by CPU count.
type resourceSampler struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
	usage          ResourceUsage

	cpu        prometheus.Gauge
	memory     prometheus.Gauge
	goroutines prometheus.Gauge

	done     chan struct{}
	stopOnce sync.Once
}

func newResourceSampler() *resourceSampler {
	return &resourceSampler{
		samples: []metrics.Sample{{Name: "/sched/cpu:seconds"}},
		numCPU:  float64(runtime.NumCPU()),
		done:    make(chan struct{}),
		cpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chassis",
			Subsystem: "resources",
			Name:      "cpu_percent",
			Help:      "Process CPU usage since the previous sample.",
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chassis",
			Subsystem: "resources",
			Name:      "memory_bytes",
			Help:      "Heap bytes currently allocated.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chassis",
			Subsystem: "resources",
			Name:      "goroutines",
			Help:      "Live goroutines.",
		}),
	}
}

func (s *resourceSampler) register(reg *prometheus.Registry) error {
	for _, g := range []prometheus.Collector{s.cpu, s.memory, s.goroutines} {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

func (s *resourceSampler) start(interval time.Duration) {
	s.snapshot()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				s.snapshot()
			}
		}
	}()
}

func (s *resourceSampler) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// snapshot samples usage, updates the gauges and returns the reading.
func (s *resourceSampler) snapshot() ResourceUsage {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics.Read(s.samples)
	sample := s.samples[0]
	haveCPU := sample.Value.Kind() == metrics.KindFloat64
	var cpuSeconds float64
	if haveCPU {
		cpuSeconds = sample.Value.Float64()
	}
	now := time.Now()

	var cpuPercent float64
	if haveCPU && !s.lastSample.IsZero() {
		deltaCPU := cpuSeconds - s.lastCPUSeconds
		deltaWall := now.Sub(s.lastSample).Seconds()
		if deltaWall > 0 && s.numCPU > 0 {
			cpuPercent = (deltaCPU / deltaWall) / s.numCPU * 100
		}
	}
	if haveCPU {
		s.lastCPUSeconds = cpuSeconds
	}
	s.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.usage = ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
	s.cpu.Set(s.usage.CPUPercent)
	s.memory.Set(float64(s.usage.MemoryBytes))
	s.goroutines.Set(float64(s.usage.Goroutines))
	return s.usage
}

// latest returns the most recent sample without taking a new one.
func (s *resourceSampler) latest() ResourceUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}
