package queue

import (
	"sync"
	"time"
)

// emaAlpha is the smoothing factor for rate, error and latency averages.
const emaAlpha = 0.1

// QueueMetrics is an immutable snapshot of one queue's activity.
type QueueMetrics struct {
	Queue           string  `json:"queue"`
	Depth           int     `json:"depth"`
	Delayed         int     `json:"delayed"`
	EnqueueCount    uint64  `json:"enqueueCount"`
	ProcessedCount  uint64  `json:"processedCount"`
	ErrorCount      uint64  `json:"errorCount"`
	DeadLetterCount uint64  `json:"deadLetterCount"`
	ExpiredCount    uint64  `json:"expiredCount"`
	ProcessingRate  float64 `json:"processingRate"` // messages/sec, EMA
	ErrorRate       float64 `json:"errorRate"`      // failure share, EMA
	AvgLatencyMs    float64 `json:"avgLatencyMs"`   // EMA
	ConsumerCount   int     `json:"consumerCount"`
	UpdatedAtMs     int64   `json:"updatedAtMs"`
}

// queueStats accumulates per-queue counters and EMAs. Depth and consumer
// count are read live at snapshot time, not stored here.
type queueStats struct {
	mu              sync.Mutex
	enqueueCount    uint64
	processedCount  uint64
	errorCount      uint64
	deadLetterCount uint64
	expiredCount    uint64
	processingRate  float64
	errorRate       float64
	avgLatencyMs    float64
	lastDoneMs      int64
	updatedAtMs     int64
}

func (s *queueStats) observeEnqueue(n int) {
	s.mu.Lock()
	s.enqueueCount += uint64(n)
	s.updatedAtMs = time.Now().UnixMilli()
	s.mu.Unlock()
}

// observeOutcome folds one handler completion into the EMAs. failed covers
// retryable and permanent failures alike; latency is handler wall time.
func (s *queueStats) observeOutcome(latency time.Duration, failed bool, nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if failed {
		s.errorCount++
		s.errorRate = s.errorRate*(1-emaAlpha) + emaAlpha
	} else {
		s.processedCount++
		s.errorRate = s.errorRate * (1 - emaAlpha)
	}
	s.avgLatencyMs = s.avgLatencyMs*(1-emaAlpha) + emaAlpha*float64(latency.Milliseconds())

	if s.lastDoneMs > 0 && nowMs > s.lastDoneMs {
		sample := 1000 / float64(nowMs-s.lastDoneMs)
		s.processingRate = s.processingRate*(1-emaAlpha) + emaAlpha*sample
	}
	s.lastDoneMs = nowMs
	s.updatedAtMs = nowMs
}

func (s *queueStats) observeDeadLetter() {
	s.mu.Lock()
	s.deadLetterCount++
	s.updatedAtMs = time.Now().UnixMilli()
	s.mu.Unlock()
}

func (s *queueStats) observeExpired() {
	s.mu.Lock()
	s.expiredCount++
	s.updatedAtMs = time.Now().UnixMilli()
	s.mu.Unlock()
}

// snapshot copies the counters into a QueueMetrics shell; the caller fills
// in live depth and consumer count.
func (s *queueStats) snapshot(queue string) QueueMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueMetrics{
		Queue:           queue,
		EnqueueCount:    s.enqueueCount,
		ProcessedCount:  s.processedCount,
		ErrorCount:      s.errorCount,
		DeadLetterCount: s.deadLetterCount,
		ExpiredCount:    s.expiredCount,
		ProcessingRate:  s.processingRate,
		ErrorRate:       s.errorRate,
		AvgLatencyMs:    s.avgLatencyMs,
		UpdatedAtMs:     s.updatedAtMs,
	}
}
