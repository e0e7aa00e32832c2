// Package scaling is the closed-loop consumer autoscaler: a periodic control
// loop reads live queue metrics, evaluates scaling policies and adjusts
// consumer counts through the queue manager's pool, bounded by per-policy
// min/max and a per-(policy,queue) cooldown.
package scaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/audit"
	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// ErrPolicyNotFound is returned for CRUD against unknown policy ids.
var ErrPolicyNotFound = errors.New("scaling: policy not found")

const (
	keyPrefix  = "scalepol/"
	historyCap = 200
	// WildcardQueue applies a policy to every declared queue.
	WildcardQueue = "*"
)

// Metric names a scalable signal.
type Metric string

const (
	MetricQueueDepth     Metric = "queue_depth"
	MetricProcessingRate Metric = "processing_rate"
	MetricErrorRate      Metric = "error_rate"
	MetricLatency        Metric = "latency"
	MetricCPUUsage       Metric = "cpu_usage"
	MetricMemoryUsage    Metric = "memory_usage"
)

// Comparison is the breach operator.
type Comparison string

const (
	CmpGT  Comparison = "gt"
	CmpGTE Comparison = "gte"
	CmpLT  Comparison = "lt"
	CmpLTE Comparison = "lte"
	CmpEQ  Comparison = "eq"
)

// Eval reports whether value breaches threshold under this operator.
func (c Comparison) Eval(value, threshold float64) bool {
	switch c {
	case CmpGT:
		return value > threshold
	case CmpGTE:
		return value >= threshold
	case CmpLT:
		return value < threshold
	case CmpLTE:
		return value <= threshold
	case CmpEQ:
		return value == threshold
	}
	return false
}

// direction: gt/gte/eq breaches read as overload (scale up), lt/lte as
// under-utilization (scale down).
func (c Comparison) scalesUp() bool { return c == CmpGT || c == CmpGTE || c == CmpEQ }

// ScalingPolicy binds a metric threshold to consumer-count adjustments on
// one queue or all of them.
type ScalingPolicy struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Queue          string     `json:"queue"` // name or "*"
	Metric         Metric     `json:"metric"`
	Threshold      float64    `json:"threshold"`
	Comparison     Comparison `json:"comparison"`
	ScaleUpStep    int        `json:"scaleUpStep"`
	ScaleDownStep  int        `json:"scaleDownStep"`
	MinConsumers   int        `json:"minConsumers"`
	MaxConsumers   int        `json:"maxConsumers"`
	CooldownMs     int64      `json:"cooldownMs"`
	Active         bool       `json:"active"`
	CreatedAtMs    int64      `json:"createdAtMs"`
	UpdatedAtMs    int64      `json:"updatedAtMs"`
}

// Validate fails fast on malformed policies.
func (p ScalingPolicy) Validate() error {
	switch p.Metric {
	case MetricQueueDepth, MetricProcessingRate, MetricErrorRate, MetricLatency, MetricCPUUsage, MetricMemoryUsage:
	default:
		return fmt.Errorf("scaling: unknown metric %q", p.Metric)
	}
	switch p.Comparison {
	case CmpGT, CmpGTE, CmpLT, CmpLTE, CmpEQ:
	default:
		return fmt.Errorf("scaling: unknown comparison %q", p.Comparison)
	}
	if p.Queue == "" {
		return fmt.Errorf("scaling: queue required (name or %q)", WildcardQueue)
	}
	if p.MinConsumers < 0 || p.MaxConsumers < p.MinConsumers {
		return fmt.Errorf("scaling: need 0 <= min <= max, got [%d,%d]", p.MinConsumers, p.MaxConsumers)
	}
	if p.ScaleUpStep < 1 || p.ScaleDownStep < 1 {
		return fmt.Errorf("scaling: steps must be >= 1")
	}
	if p.CooldownMs < 0 {
		return fmt.Errorf("scaling: cooldown must be >= 0")
	}
	return nil
}

// EventStatus tracks a scaling decision's lifecycle.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventInProgress EventStatus = "in_progress"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
)

// ScalingEvent records one decision, automatic or manual.
type ScalingEvent struct {
	ID          string      `json:"id"`
	PolicyID    string      `json:"policyId,omitempty"` // empty for manual
	Queue       string      `json:"queue"`
	Metric      Metric      `json:"metric,omitempty"`
	MetricValue float64     `json:"metricValue,omitempty"`
	From        int         `json:"from"`
	To          int         `json:"to"`
	Reason      string      `json:"reason"`
	Status      EventStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	AtMs        int64       `json:"atMs"`
}

// MetricSource supplies the live signals policies evaluate.
type MetricSource interface {
	QueueMetric(ctx context.Context, queue string, metric Metric) (float64, error)
	QueueNames(ctx context.Context) []string
}

// Scaler adjusts the live consumer count on a queue.
type Scaler interface {
	ConsumerCount(queue string) int
	ScaleTo(ctx context.Context, queue string, target int) error
}

// Service runs the control loop and owns policy CRUD plus the bounded
// in-memory event history.
type Service struct {
	db      *pebblestore.DB
	metrics MetricSource
	scaler  Scaler
	aud     audit.Recorder
	logger  logpkg.Logger

	interval time.Duration

	mu        sync.Mutex
	policies  map[string]*ScalingPolicy
	lastFired map[string]int64 // policyID+"/"+queue -> last trigger ms
	events    []ScalingEvent

	nowMs func() int64
}

// Options tunes the service. Interval 0 means 30s.
type Options struct {
	Interval time.Duration
	Logger   logpkg.Logger
}

// New restores persisted policies. Run must be called to start the loop.
func New(db *pebblestore.DB, metrics MetricSource, scaler Scaler, aud audit.Recorder, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.Discard()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	s := &Service{
		db:        db,
		metrics:   metrics,
		scaler:    scaler,
		aud:       aud,
		logger:    logger.With(logpkg.Component("scaling")),
		interval:  interval,
		policies:  make(map[string]*ScalingPolicy),
		lastFired: make(map[string]int64),
		nowMs:     func() int64 { return time.Now().UnixMilli() },
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) restore() error {
	lo, hi := pebblestore.PrefixBounds([]byte(keyPrefix))
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var p ScalingPolicy
		if err := json.Unmarshal(iter.Value(), &p); err != nil {
			return fmt.Errorf("scaling: corrupt policy at %q: %w", iter.Key(), err)
		}
		s.policies[p.ID] = &p
	}
	s.logger.Info("policies restored", logpkg.Int("count", len(s.policies)))
	return nil
}

// CreatePolicy validates and persists a policy.
func (s *Service) CreatePolicy(ctx context.Context, p ScalingPolicy) (ScalingPolicy, error) {
	if err := p.Validate(); err != nil {
		return ScalingPolicy{}, err
	}
	now := s.nowMs()
	p.ID = uuid.NewString()
	p.CreatedAtMs, p.UpdatedAtMs = now, now
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistLocked(&p); err != nil {
		return ScalingPolicy{}, err
	}
	s.policies[p.ID] = &p
	return p, nil
}

// UpdatePolicy replaces an existing policy, keeping its cooldown state.
func (s *Service) UpdatePolicy(ctx context.Context, p ScalingPolicy) (ScalingPolicy, error) {
	if err := p.Validate(); err != nil {
		return ScalingPolicy{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.policies[p.ID]
	if !ok {
		return ScalingPolicy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, p.ID)
	}
	p.CreatedAtMs = cur.CreatedAtMs
	p.UpdatedAtMs = s.nowMs()
	if err := s.persistLocked(&p); err != nil {
		return ScalingPolicy{}, err
	}
	s.policies[p.ID] = &p
	return p, nil
}

// DeletePolicy removes a policy and its cooldown state.
func (s *Service) DeletePolicy(ctx context.Context, policyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[policyID]; !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, policyID)
	}
	if err := s.db.Delete([]byte(keyPrefix + policyID)); err != nil {
		return err
	}
	delete(s.policies, policyID)
	for k := range s.lastFired {
		if len(k) > len(policyID) && k[:len(policyID)] == policyID {
			delete(s.lastFired, k)
		}
	}
	return nil
}

// Policies lists all policies sorted by creation.
func (s *Service) Policies() []ScalingPolicy {
	s.mu.Lock()
	out := make([]ScalingPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, *p)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMs < out[j].CreatedAtMs })
	return out
}

// Events returns the bounded decision history, newest first.
func (s *Service) Events(limit int) []ScalingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]ScalingEvent, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.events[len(s.events)-1-i]
	}
	return out
}

func (s *Service) persistLocked(p *ScalingPolicy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(keyPrefix+p.ID), raw)
}

// Run executes the control loop until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Evaluate(ctx)
		}
	}
}

// Evaluate runs one control cycle: every active policy against every queue
// it covers.
func (s *Service) Evaluate(ctx context.Context) {
	s.mu.Lock()
	policies := make([]ScalingPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		if p.Active {
			policies = append(policies, *p)
		}
	}
	s.mu.Unlock()
	sort.Slice(policies, func(i, j int) bool { return policies[i].CreatedAtMs < policies[j].CreatedAtMs })

	for _, p := range policies {
		queues := []string{p.Queue}
		if p.Queue == WildcardQueue {
			queues = s.metrics.QueueNames(ctx)
		}
		for _, q := range queues {
			s.evaluateOne(ctx, p, q)
		}
	}
}

func (s *Service) evaluateOne(ctx context.Context, p ScalingPolicy, queueName string) {
	value, err := s.metrics.QueueMetric(ctx, queueName, p.Metric)
	if err != nil {
		s.logger.Warn("metric read failed",
			logpkg.Str("policy", p.Name), logpkg.Str("queue", queueName), logpkg.Err(err))
		return
	}
	if !p.Comparison.Eval(value, p.Threshold) {
		return
	}

	now := s.nowMs()
	cooldownKey := p.ID + "/" + queueName
	s.mu.Lock()
	last := s.lastFired[cooldownKey]
	if p.CooldownMs > 0 && now-last < p.CooldownMs {
		s.mu.Unlock()
		s.logger.Debug("breach suppressed by cooldown",
			logpkg.Str("policy", p.Name), logpkg.Str("queue", queueName))
		return
	}
	s.mu.Unlock()

	current := s.scaler.ConsumerCount(queueName)
	target := current
	if p.Comparison.scalesUp() {
		target = current + p.ScaleUpStep
		if target > p.MaxConsumers {
			target = p.MaxConsumers
		}
	} else {
		target = current - p.ScaleDownStep
		if target < p.MinConsumers {
			target = p.MinConsumers
		}
	}
	if target == current {
		return
	}

	reason := fmt.Sprintf("%s %s=%g %s %g", p.Name, p.Metric, value, p.Comparison, p.Threshold)
	s.mu.Lock()
	s.lastFired[cooldownKey] = now
	s.mu.Unlock()
	s.execute(ctx, ScalingEvent{
		ID: uuid.NewString(), PolicyID: p.ID, Queue: queueName,
		Metric: p.Metric, MetricValue: value,
		From: current, To: target, Reason: reason,
		Status: EventPending, AtMs: now,
	})
}

// ManualScale bypasses policy evaluation for operator-directed scaling,
// recorded like any other event.
func (s *Service) ManualScale(ctx context.Context, queueName string, target int, reason string) (ScalingEvent, error) {
	if target < 0 {
		return ScalingEvent{}, fmt.Errorf("scaling: target must be >= 0, got %d", target)
	}
	if reason == "" {
		reason = "manual scale"
	}
	ev := ScalingEvent{
		ID: uuid.NewString(), Queue: queueName,
		From: s.scaler.ConsumerCount(queueName), To: target,
		Reason: reason, Status: EventPending, AtMs: s.nowMs(),
	}
	done := s.execute(ctx, ev)
	if done.Status == EventFailed {
		return done, errors.New(done.Error)
	}
	return done, nil
}

// execute drives the event through its lifecycle, records it, and returns
// the final form.
func (s *Service) execute(ctx context.Context, ev ScalingEvent) ScalingEvent {
	ev.Status = EventInProgress
	if err := s.scaler.ScaleTo(ctx, ev.Queue, ev.To); err != nil {
		ev.Status = EventFailed
		ev.Error = err.Error()
		s.logger.Error("scale failed",
			logpkg.Str("queue", ev.Queue), logpkg.Int("target", ev.To), logpkg.Err(err))
	} else {
		ev.Status = EventCompleted
		s.logger.Info("scaled",
			logpkg.Str("queue", ev.Queue), logpkg.Int("from", ev.From), logpkg.Int("to", ev.To),
			logpkg.Str("reason", ev.Reason))
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > historyCap {
		s.events = s.events[len(s.events)-historyCap:]
	}
	s.mu.Unlock()

	if s.aud != nil {
		s.aud.Record(ctx, audit.KindScaling, string(ev.Status), ev)
	}
	return ev
}
