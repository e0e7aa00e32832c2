package monitor

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// CheckStatus is one health check's verdict.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// OverallStatus is the worst-of aggregate.
type OverallStatus string

const (
	StatusHealthy   OverallStatus = "healthy"
	StatusDegraded  OverallStatus = "degraded"
	StatusUnhealthy OverallStatus = "unhealthy"
)

// CheckResult is one check outcome.
type CheckResult struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Health is the aggregate report.
type Health struct {
	Status OverallStatus `json:"status"`
	AtMs   int64         `json:"atMs"`
	Checks []CheckResult `json:"checks"`
}

// StoreProber is the storage health probe.
type StoreProber interface {
	Health() error
}

// HealthThresholds set the warn/fail lines.
type HealthThresholds struct {
	DepthWarn     int     // per queue
	DepthFail     int
	ErrorRateWarn float64 // EMA failure share
	ErrorRateFail float64
	HeapWarnBytes uint64
	HeapFailBytes uint64
}

// DefaultHealthThresholds are conservative single-node defaults.
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		DepthWarn:     10_000,
		DepthFail:     100_000,
		ErrorRateWarn: 0.10,
		ErrorRateFail: 0.50,
		HeapWarnBytes: 1 << 30, // 1 GiB
		HeapFailBytes: 4 << 30,
	}
}

// HealthChecker runs the check battery on demand.
type HealthChecker struct {
	store      StoreProber
	queues     QueueSource
	thresholds HealthThresholds
}

func NewHealthChecker(store StoreProber, queues QueueSource, t HealthThresholds) *HealthChecker {
	return &HealthChecker{store: store, queues: queues, thresholds: t}
}

// Check runs every check and aggregates worst-of.
func (h *HealthChecker) Check(ctx context.Context) Health {
	checks := []CheckResult{
		h.checkStore(),
		h.checkMemory(),
	}
	checks = append(checks, h.checkQueues(ctx)...)

	overall := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case CheckFail:
			overall = StatusUnhealthy
		case CheckWarn:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return Health{Status: overall, AtMs: time.Now().UnixMilli(), Checks: checks}
}

func (h *HealthChecker) checkStore() CheckResult {
	if err := h.store.Health(); err != nil {
		return CheckResult{Name: "store", Status: CheckFail, Detail: err.Error()}
	}
	return CheckResult{Name: "store", Status: CheckPass}
}

func (h *HealthChecker) checkMemory() CheckResult {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	detail := fmt.Sprintf("heapAlloc=%d", ms.HeapAlloc)
	switch {
	case ms.HeapAlloc >= h.thresholds.HeapFailBytes:
		return CheckResult{Name: "memory", Status: CheckFail, Detail: detail}
	case ms.HeapAlloc >= h.thresholds.HeapWarnBytes:
		return CheckResult{Name: "memory", Status: CheckWarn, Detail: detail}
	}
	return CheckResult{Name: "memory", Status: CheckPass}
}

func (h *HealthChecker) checkQueues(ctx context.Context) []CheckResult {
	var out []CheckResult
	for _, qm := range h.queues.AllMetrics(ctx) {
		name := "queue:" + qm.Queue
		switch {
		case qm.Depth >= h.thresholds.DepthFail:
			out = append(out, CheckResult{Name: name + ":depth", Status: CheckFail,
				Detail: fmt.Sprintf("depth=%d", qm.Depth)})
		case qm.Depth >= h.thresholds.DepthWarn:
			out = append(out, CheckResult{Name: name + ":depth", Status: CheckWarn,
				Detail: fmt.Sprintf("depth=%d", qm.Depth)})
		}
		switch {
		case qm.ErrorRate >= h.thresholds.ErrorRateFail:
			out = append(out, CheckResult{Name: name + ":errors", Status: CheckFail,
				Detail: fmt.Sprintf("errorRate=%.2f", qm.ErrorRate)})
		case qm.ErrorRate >= h.thresholds.ErrorRateWarn:
			out = append(out, CheckResult{Name: name + ":errors", Status: CheckWarn,
				Detail: fmt.Sprintf("errorRate=%.2f", qm.ErrorRate)})
		}
	}
	return out
}
