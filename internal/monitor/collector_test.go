package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/scaling"
)

type fakeQueues struct {
	mu  sync.Mutex
	all []queue.QueueMetrics
}

func (f *fakeQueues) set(all ...queue.QueueMetrics) {
	f.mu.Lock()
	f.all = all
	f.mu.Unlock()
}

func (f *fakeQueues) AllMetrics(ctx context.Context) []queue.QueueMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.QueueMetrics, len(f.all))
	copy(out, f.all)
	return out
}

func (f *fakeQueues) Metrics(ctx context.Context, queueName string) (queue.QueueMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, qm := range f.all {
		if qm.Queue == queueName {
			return qm, nil
		}
	}
	return queue.QueueMetrics{}, queue.ErrQueueNotFound
}

func TestCollectorLatestAndHistory(t *testing.T) {
	src := &fakeQueues{}
	src.set(queue.QueueMetrics{Queue: "orders", Depth: 1})
	c := NewCollector(src, time.Hour, 8, nil)
	ctx := context.Background()

	if _, ok := c.Latest(); ok {
		t.Fatal("expected no snapshot before first sample")
	}

	c.Sample(ctx)
	src.set(queue.QueueMetrics{Queue: "orders", Depth: 7})
	c.Sample(ctx)

	snap, ok := c.Latest()
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if len(snap.Queues) != 1 || snap.Queues[0].Depth != 7 {
		t.Fatalf("latest snapshot = %+v, want depth 7", snap.Queues)
	}
	if snap.System.Goroutines <= 0 || snap.System.HeapAllocBytes == 0 {
		t.Fatalf("system sample not populated: %+v", snap.System)
	}

	hist := c.History(time.Minute)
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].AtMs > hist[1].AtMs {
		t.Fatal("history not oldest-first")
	}
}

func TestCollectorRingEviction(t *testing.T) {
	src := &fakeQueues{}
	c := NewCollector(src, time.Hour, 3, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		src.set(queue.QueueMetrics{Queue: "orders", Depth: i})
		c.Sample(ctx)
	}

	hist := c.History(time.Minute)
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want ring capacity 3", len(hist))
	}
	for i, want := range []int{2, 3, 4} {
		if got := hist[i].Queues[0].Depth; got != want {
			t.Fatalf("hist[%d] depth = %d, want %d", i, got, want)
		}
	}
}

func TestCollectorPercentiles(t *testing.T) {
	src := &fakeQueues{}
	c := NewCollector(src, time.Hour, 16, nil)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		src.set(queue.QueueMetrics{Queue: "orders", AvgLatencyMs: float64(i * 10)})
		c.Sample(ctx)
	}

	perf, err := c.Percentiles("orders", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if perf.Samples != 10 {
		t.Fatalf("samples = %d, want 10", perf.Samples)
	}
	if perf.P50Ms != 50 || perf.P95Ms != 100 || perf.P99Ms != 100 {
		t.Fatalf("percentiles = p50 %g p95 %g p99 %g", perf.P50Ms, perf.P95Ms, perf.P99Ms)
	}

	if _, err := c.Percentiles("missing", time.Minute); err == nil {
		t.Fatal("expected error for queue with no samples")
	}
}

func TestCollectorQueueMetricMapping(t *testing.T) {
	src := &fakeQueues{}
	src.set(queue.QueueMetrics{
		Queue:          "orders",
		Depth:          42,
		ProcessingRate: 12.5,
		ErrorRate:      0.25,
		AvgLatencyMs:   80,
	})
	c := NewCollector(src, time.Hour, 4, nil)
	ctx := context.Background()
	c.Sample(ctx)

	cases := []struct {
		metric scaling.Metric
		want   float64
	}{
		{scaling.MetricQueueDepth, 42},
		{scaling.MetricProcessingRate, 12.5},
		{scaling.MetricErrorRate, 0.25},
		{scaling.MetricLatency, 80},
	}
	for _, tc := range cases {
		got, err := c.QueueMetric(ctx, "orders", tc.metric)
		if err != nil {
			t.Fatalf("%s: %v", tc.metric, err)
		}
		if got != tc.want {
			t.Fatalf("%s = %g, want %g", tc.metric, got, tc.want)
		}
	}

	heap, err := c.QueueMetric(ctx, "orders", scaling.MetricMemoryUsage)
	if err != nil {
		t.Fatal(err)
	}
	if heap <= 0 {
		t.Fatalf("heap usage = %g, want > 0", heap)
	}
	if _, err := c.QueueMetric(ctx, "orders", scaling.MetricCPUUsage); err != nil {
		t.Fatal(err)
	}
	if _, err := c.QueueMetric(ctx, "orders", scaling.Metric("bogus")); err == nil {
		t.Fatal("expected error for unknown metric")
	}

	names := c.QueueNames(ctx)
	if len(names) != 1 || names[0] != "orders" {
		t.Fatalf("queue names = %v", names)
	}
}

type fakeProber struct{ err error }

func (f fakeProber) Health() error { return f.err }

func TestHealthCheckerWorstOf(t *testing.T) {
	src := &fakeQueues{}
	ctx := context.Background()
	th := DefaultHealthThresholds()

	h := NewHealthChecker(fakeProber{}, src, th)
	if got := h.Check(ctx).Status; got != StatusHealthy {
		t.Fatalf("status = %s, want healthy", got)
	}

	src.set(queue.QueueMetrics{Queue: "orders", Depth: th.DepthWarn})
	if got := h.Check(ctx).Status; got != StatusDegraded {
		t.Fatalf("status = %s, want degraded on depth warn", got)
	}

	src.set(queue.QueueMetrics{Queue: "orders", Depth: th.DepthFail, ErrorRate: th.ErrorRateWarn})
	rep := h.Check(ctx)
	if rep.Status != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy when any check fails", rep.Status)
	}
	var sawDepthFail, sawErrWarn bool
	for _, c := range rep.Checks {
		if c.Name == "queue:orders:depth" && c.Status == CheckFail {
			sawDepthFail = true
		}
		if c.Name == "queue:orders:errors" && c.Status == CheckWarn {
			sawErrWarn = true
		}
	}
	if !sawDepthFail || !sawErrWarn {
		t.Fatalf("missing expected checks: %+v", rep.Checks)
	}

	src.set()
	broken := NewHealthChecker(fakeProber{err: errors.New("pebble closed")}, src, th)
	if got := broken.Check(ctx).Status; got != StatusUnhealthy {
		t.Fatalf("status = %s, want unhealthy on store failure", got)
	}
}
