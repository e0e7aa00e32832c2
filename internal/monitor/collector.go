// Package monitor watches the node: periodic health checks, a rolling
// window of queue and system metrics with percentile reporting, and
// threshold alerting through a circuit-broken notifier. It is also the
// metric source the autoscaler reads.
package monitor

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/scaling"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// QueueSource is the queue-manager slice the monitor reads.
type QueueSource interface {
	AllMetrics(ctx context.Context) []queue.QueueMetrics
	Metrics(ctx context.Context, queueName string) (queue.QueueMetrics, error)
}

// SystemMetrics is one process-level sample.
type SystemMetrics struct {
	AtMs            int64   `json:"atMs"`
	Goroutines      int     `json:"goroutines"`
	HeapAllocBytes  uint64  `json:"heapAllocBytes"`
	HeapSysBytes    uint64  `json:"heapSysBytes"`
	NumGC           uint32  `json:"numGC"`
	CPUUsagePercent float64 `json:"cpuUsagePercent"`
}

// Snapshot is one collection cycle's view.
type Snapshot struct {
	AtMs   int64                `json:"atMs"`
	Queues []queue.QueueMetrics `json:"queues"`
	System SystemMetrics        `json:"system"`
}

// PerformanceSnapshot reports latency percentiles over the rolling window.
type PerformanceSnapshot struct {
	Queue     string  `json:"queue"`
	Samples   int     `json:"samples"`
	P50Ms     float64 `json:"p50Ms"`
	P95Ms     float64 `json:"p95Ms"`
	P99Ms     float64 `json:"p99Ms"`
	WindowMs  int64   `json:"windowMs"`
	UpdatedMs int64   `json:"updatedMs"`
}

// Collector samples queue and system metrics into a bounded ring buffer.
type Collector struct {
	src      QueueSource
	logger   logpkg.Logger
	interval time.Duration

	mu   sync.RWMutex
	ring []Snapshot
	next int
	full bool

	cpu cpuTracker
}

// NewCollector keeps `capacity` snapshots; 0 means 360 (an hour at 10s).
func NewCollector(src QueueSource, interval time.Duration, capacity int, logger logpkg.Logger) *Collector {
	if logger == nil {
		logger = logpkg.Discard()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if capacity <= 0 {
		capacity = 360
	}
	return &Collector{
		src:      src,
		logger:   logger.With(logpkg.Component("monitor")),
		interval: interval,
		ring:     make([]Snapshot, capacity),
	}
}

// Run samples until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Sample(ctx)
		}
	}
}

// Sample collects one snapshot immediately.
func (c *Collector) Sample(ctx context.Context) Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap := Snapshot{
		AtMs:   time.Now().UnixMilli(),
		Queues: c.src.AllMetrics(ctx),
		System: SystemMetrics{
			AtMs:            time.Now().UnixMilli(),
			Goroutines:      runtime.NumGoroutine(),
			HeapAllocBytes:  ms.HeapAlloc,
			HeapSysBytes:    ms.HeapSys,
			NumGC:           ms.NumGC,
			CPUUsagePercent: c.cpu.sample(),
		},
	}
	c.mu.Lock()
	c.ring[c.next] = snap
	c.next = (c.next + 1) % len(c.ring)
	if c.next == 0 {
		c.full = true
	}
	c.mu.Unlock()
	return snap
}

// Latest returns the most recent snapshot, if any.
func (c *Collector) Latest() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := c.next - 1
	if idx < 0 {
		if !c.full {
			return Snapshot{}, false
		}
		idx = len(c.ring) - 1
	}
	s := c.ring[idx]
	if s.AtMs == 0 {
		return Snapshot{}, false
	}
	return s, true
}

// History returns snapshots in the window, oldest first.
func (c *Collector) History(window time.Duration) []Snapshot {
	cutoff := time.Now().Add(-window).UnixMilli()
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.next
	if c.full {
		n = len(c.ring)
	}
	out := make([]Snapshot, 0, n)
	start := 0
	if c.full {
		start = c.next
	}
	for i := 0; i < n; i++ {
		s := c.ring[(start+i)%len(c.ring)]
		if s.AtMs >= cutoff {
			out = append(out, s)
		}
	}
	return out
}

// Percentiles computes latency percentiles for one queue over the window.
func (c *Collector) Percentiles(queueName string, window time.Duration) (PerformanceSnapshot, error) {
	hist := c.History(window)
	var samples []float64
	for _, s := range hist {
		for _, qm := range s.Queues {
			if qm.Queue == queueName && qm.AvgLatencyMs > 0 {
				samples = append(samples, qm.AvgLatencyMs)
			}
		}
	}
	if len(samples) == 0 {
		return PerformanceSnapshot{}, fmt.Errorf("monitor: no latency samples for %q", queueName)
	}
	sort.Float64s(samples)
	return PerformanceSnapshot{
		Queue:     queueName,
		Samples:   len(samples),
		P50Ms:     percentile(samples, 0.50),
		P95Ms:     percentile(samples, 0.95),
		P99Ms:     percentile(samples, 0.99),
		WindowMs:  window.Milliseconds(),
		UpdatedMs: time.Now().UnixMilli(),
	}, nil
}

// percentile expects sorted input; nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// QueueMetric implements the autoscaler's metric source over live queue
// stats and the latest system sample.
func (c *Collector) QueueMetric(ctx context.Context, queueName string, metric scaling.Metric) (float64, error) {
	switch metric {
	case scaling.MetricCPUUsage, scaling.MetricMemoryUsage:
		snap, ok := c.Latest()
		if !ok {
			return 0, fmt.Errorf("monitor: no system sample yet")
		}
		if metric == scaling.MetricCPUUsage {
			return snap.System.CPUUsagePercent, nil
		}
		return float64(snap.System.HeapAllocBytes), nil
	}
	qm, err := c.src.Metrics(ctx, queueName)
	if err != nil {
		return 0, err
	}
	switch metric {
	case scaling.MetricQueueDepth:
		return float64(qm.Depth), nil
	case scaling.MetricProcessingRate:
		return qm.ProcessingRate, nil
	case scaling.MetricErrorRate:
		return qm.ErrorRate, nil
	case scaling.MetricLatency:
		return qm.AvgLatencyMs, nil
	}
	return 0, fmt.Errorf("monitor: unknown metric %q", metric)
}

// QueueNames lists queues for wildcard policies.
func (c *Collector) QueueNames(ctx context.Context) []string {
	all := c.src.AllMetrics(ctx)
	out := make([]string, len(all))
	for i, qm := range all {
		out[i] = qm.Queue
	}
	return out
}
