package monitor

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
	"github.com/sony/gobreaker"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/audit"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/scaling"
	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// ErrAlertNotFound is returned for unknown alert or rule ids.
var ErrAlertNotFound = errors.New("monitor: alert not found")

const (
	alertRulePrefix = "alertrule/"
	alertCap        = 500
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertRule fires an alert when a metric breaches its threshold, at most
// once per cooldown.
type AlertRule struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Queue           string             `json:"queue,omitempty"` // empty = every queue
	Metric          scaling.Metric     `json:"metric"`
	Threshold       float64            `json:"threshold"`
	Comparison      scaling.Comparison `json:"comparison"`
	Severity        Severity           `json:"severity"`
	CooldownMs      int64              `json:"cooldownMs"`
	Channels        []string           `json:"channels,omitempty"`
	Active          bool               `json:"active"`
	LastTriggeredMs int64              `json:"lastTriggeredMs"`
	CreatedAtMs     int64              `json:"createdAtMs"`
	UpdatedAtMs     int64              `json:"updatedAtMs"`
}

// Validate fails fast on malformed rules.
func (r AlertRule) Validate() error {
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return fmt.Errorf("monitor: unknown severity %q", r.Severity)
	}
	switch r.Metric {
	case scaling.MetricQueueDepth, scaling.MetricProcessingRate, scaling.MetricErrorRate,
		scaling.MetricLatency, scaling.MetricCPUUsage, scaling.MetricMemoryUsage:
	default:
		return fmt.Errorf("monitor: unknown metric %q", r.Metric)
	}
	switch r.Comparison {
	case scaling.CmpGT, scaling.CmpGTE, scaling.CmpLT, scaling.CmpLTE, scaling.CmpEQ:
	default:
		return fmt.Errorf("monitor: unknown comparison %q", r.Comparison)
	}
	if r.CooldownMs < 0 {
		return fmt.Errorf("monitor: cooldown must be >= 0")
	}
	return nil
}

// AlertStatus is an alert's lifecycle state.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Alert is one fired rule instance.
type Alert struct {
	ID         string      `json:"id"`
	RuleID     string      `json:"ruleId"`
	RuleName   string      `json:"ruleName"`
	Queue      string      `json:"queue,omitempty"`
	Severity   Severity    `json:"severity"`
	Message    string      `json:"message"`
	Value      float64     `json:"value"`
	Channels   []string    `json:"channels,omitempty"`
	Status     AlertStatus `json:"status"`
	CreatedMs  int64       `json:"createdMs"`
	ResolvedMs int64       `json:"resolvedMs,omitempty"`
}

// Notifier delivers alerts to external channels. Implementations are
// external sinks; delivery failure never blocks alert recording.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// AlertManager evaluates rules on a timer and owns the bounded alert list.
type AlertManager struct {
	db       *pebblestore.DB
	metrics  scaling.MetricSource
	notifier Notifier
	breaker  *gobreaker.CircuitBreaker
	aud      audit.Recorder
	logger   logpkg.Logger
	interval time.Duration

	mu     sync.Mutex
	rules  map[string]*AlertRule
	alerts []*Alert

	nowMs func() int64
}

// AlertOptions tunes the manager. Interval 0 means 15s.
type AlertOptions struct {
	Interval time.Duration
	Logger   logpkg.Logger
}

// NewAlertManager restores persisted rules. notifier may be nil (log-only).
func NewAlertManager(db *pebblestore.DB, metrics scaling.MetricSource, notifier Notifier, aud audit.Recorder, opts AlertOptions) (*AlertManager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.Discard()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m := &AlertManager{
		db:       db,
		metrics:  metrics,
		notifier: notifier,
		aud:      aud,
		logger:   logger.With(logpkg.Component("alerts")),
		interval: interval,
		rules:    make(map[string]*AlertRule),
		nowMs:    func() int64 { return time.Now().UnixMilli() },
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "alert-notifier",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	if err := m.restore(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AlertManager) restore() error {
	lo, hi := pebblestore.PrefixBounds([]byte(alertRulePrefix))
	iter, err := m.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var r AlertRule
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return fmt.Errorf("monitor: corrupt alert rule at %q: %w", iter.Key(), err)
		}
		m.rules[r.ID] = &r
	}
	return nil
}

// CreateRule validates and persists an alert rule.
func (m *AlertManager) CreateRule(ctx context.Context, r AlertRule) (AlertRule, error) {
	if err := r.Validate(); err != nil {
		return AlertRule{}, err
	}
	now := m.nowMs()
	r.ID = uuid.NewString()
	r.CreatedAtMs, r.UpdatedAtMs = now, now
	r.LastTriggeredMs = 0
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.persistLocked(&r); err != nil {
		return AlertRule{}, err
	}
	m.rules[r.ID] = &r
	return r, nil
}

// UpdateRule replaces an existing rule, keeping its cooldown stamp.
func (m *AlertManager) UpdateRule(ctx context.Context, r AlertRule) (AlertRule, error) {
	if err := r.Validate(); err != nil {
		return AlertRule{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rules[r.ID]
	if !ok {
		return AlertRule{}, fmt.Errorf("%w: rule %s", ErrAlertNotFound, r.ID)
	}
	r.CreatedAtMs = cur.CreatedAtMs
	r.LastTriggeredMs = cur.LastTriggeredMs
	r.UpdatedAtMs = m.nowMs()
	if err := m.persistLocked(&r); err != nil {
		return AlertRule{}, err
	}
	m.rules[r.ID] = &r
	return r, nil
}

// DeleteRule removes a rule. Its fired alerts stay in history.
func (m *AlertManager) DeleteRule(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[ruleID]; !ok {
		return fmt.Errorf("%w: rule %s", ErrAlertNotFound, ruleID)
	}
	if err := m.db.Delete([]byte(alertRulePrefix + ruleID)); err != nil {
		return err
	}
	delete(m.rules, ruleID)
	return nil
}

// Rules lists rules sorted by creation.
func (m *AlertManager) Rules() []AlertRule {
	m.mu.Lock()
	out := make([]AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMs < out[j].CreatedAtMs })
	return out
}

// Alerts returns alerts newest first, optionally only active ones.
func (m *AlertManager) Alerts(activeOnly bool) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if activeOnly && a.Status != AlertActive {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// ResolveAlert marks an alert resolved. It does not reset the rule's
// cooldown stamp.
func (m *AlertManager) ResolveAlert(ctx context.Context, alertID string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == alertID {
			if a.Status == AlertResolved {
				return *a, nil
			}
			a.Status = AlertResolved
			a.ResolvedMs = m.nowMs()
			if m.aud != nil {
				m.aud.Record(ctx, audit.KindAlert, "resolved", *a)
			}
			return *a, nil
		}
	}
	return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
}

func (m *AlertManager) persistLocked(r *AlertRule) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return m.db.Set([]byte(alertRulePrefix+r.ID), raw)
}

// Run evaluates rules until ctx is done.
func (m *AlertManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Evaluate(ctx)
		}
	}
}

// Evaluate runs one pass over all active rules, skipping those in cooldown.
func (m *AlertManager) Evaluate(ctx context.Context) {
	now := m.nowMs()
	m.mu.Lock()
	rules := make([]AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		if !r.Active {
			continue
		}
		if r.CooldownMs > 0 && now-r.LastTriggeredMs < r.CooldownMs {
			continue
		}
		rules = append(rules, *r)
	}
	m.mu.Unlock()

	for _, r := range rules {
		queues := []string{r.Queue}
		if r.Queue == "" {
			queues = m.metrics.QueueNames(ctx)
		}
		for _, q := range queues {
			value, err := m.metrics.QueueMetric(ctx, q, r.Metric)
			if err != nil {
				m.logger.Warn("alert metric read failed",
					logpkg.Str("rule", r.Name), logpkg.Str("queue", q), logpkg.Err(err))
				continue
			}
			if !r.Comparison.Eval(value, r.Threshold) {
				continue
			}
			m.fire(ctx, r, q, value)
			break // one alert per rule per pass
		}
	}
}

func (m *AlertManager) fire(ctx context.Context, r AlertRule, queueName string, value float64) {
	now := m.nowMs()
	alert := &Alert{
		ID:        uuid.NewString(),
		RuleID:    r.ID,
		RuleName:  r.Name,
		Queue:     queueName,
		Severity:  r.Severity,
		Message:   fmt.Sprintf("%s: %s=%g %s %g on %q", r.Name, r.Metric, value, r.Comparison, r.Threshold, queueName),
		Value:     value,
		Channels:  r.Channels,
		Status:    AlertActive,
		CreatedMs: now,
	}

	m.mu.Lock()
	if cur, ok := m.rules[r.ID]; ok {
		cur.LastTriggeredMs = now
		_ = m.persistLocked(cur)
	}
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > alertCap {
		m.alerts = m.alerts[len(m.alerts)-alertCap:]
	}
	m.mu.Unlock()

	m.logger.Warn("alert fired",
		logpkg.Str("rule", r.Name), logpkg.Str("queue", queueName),
		logpkg.Str("severity", string(r.Severity)), logpkg.F("value", value))
	if m.aud != nil {
		m.aud.Record(ctx, audit.KindAlert, "fired", *alert)
	}
	m.notify(ctx, *alert)
}

// notify delivers through the circuit breaker; when it is open the alert is
// only logged, never lost from the in-memory list.
func (m *AlertManager) notify(ctx context.Context, alert Alert) {
	if m.notifier == nil {
		return
	}
	_, err := m.breaker.Execute(func() (any, error) {
		return nil, m.notifier.Notify(ctx, alert)
	})
	if err != nil {
		m.logger.Error("alert notification failed", logpkg.Str("alert", alert.ID), logpkg.Err(err))
	}
}
