package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/scaling"
	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
)

type fakeNotifier struct {
	mu    sync.Mutex
	calls []Alert
	fail  bool
}

func (f *fakeNotifier) Notify(ctx context.Context, alert Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("webhook down")
	}
	f.calls = append(f.calls, alert)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestAlerts(t *testing.T, src *fakeQueues, notifier Notifier) *AlertManager {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	c := NewCollector(src, time.Hour, 4, nil)
	m, err := NewAlertManager(db, c, notifier, nil, AlertOptions{Interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func depthRule(cooldown time.Duration) AlertRule {
	return AlertRule{
		Name:       "orders backlog",
		Queue:      "orders",
		Metric:     scaling.MetricQueueDepth,
		Threshold:  100,
		Comparison: scaling.CmpGT,
		Severity:   SeverityWarning,
		CooldownMs: cooldown.Milliseconds(),
		Channels:   []string{"ops"},
		Active:     true,
	}
}

func TestAlertRuleValidation(t *testing.T) {
	src := &fakeQueues{}
	m := newTestAlerts(t, src, nil)
	ctx := context.Background()

	bad := depthRule(0)
	bad.Severity = "panic"
	if _, err := m.CreateRule(ctx, bad); err == nil {
		t.Fatal("expected error for unknown severity")
	}
	bad = depthRule(0)
	bad.Metric = "throughput"
	if _, err := m.CreateRule(ctx, bad); err == nil {
		t.Fatal("expected error for unknown metric")
	}
	bad = depthRule(0)
	bad.CooldownMs = -1
	if _, err := m.CreateRule(ctx, bad); err == nil {
		t.Fatal("expected error for negative cooldown")
	}
}

func TestAlertCooldownSuppressesRefire(t *testing.T) {
	src := &fakeQueues{}
	src.set(queue.QueueMetrics{Queue: "orders", Depth: 150})
	notifier := &fakeNotifier{}
	m := newTestAlerts(t, src, notifier)
	ctx := context.Background()

	now := int64(1_000_000)
	m.nowMs = func() int64 { return now }

	if _, err := m.CreateRule(ctx, depthRule(300*time.Second)); err != nil {
		t.Fatal(err)
	}

	m.Evaluate(ctx)
	if got := len(m.Alerts(false)); got != 1 {
		t.Fatalf("alerts after first breach = %d, want 1", got)
	}
	if notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.count())
	}

	// Still breaching inside the cooldown window.
	now += 299_999
	m.Evaluate(ctx)
	if got := len(m.Alerts(false)); got != 1 {
		t.Fatalf("alerts inside cooldown = %d, want still 1", got)
	}

	now += 2
	m.Evaluate(ctx)
	if got := len(m.Alerts(false)); got != 2 {
		t.Fatalf("alerts after cooldown = %d, want 2", got)
	}

	alerts := m.Alerts(false)
	a := alerts[0]
	if a.Queue != "orders" || a.Value != 150 || a.Severity != SeverityWarning {
		t.Fatalf("alert = %+v", a)
	}
	if !strings.Contains(a.Message, "queue_depth") {
		t.Fatalf("message %q missing metric name", a.Message)
	}
}

func TestAlertBelowThresholdIsQuiet(t *testing.T) {
	src := &fakeQueues{}
	src.set(queue.QueueMetrics{Queue: "orders", Depth: 100})
	m := newTestAlerts(t, src, nil)
	ctx := context.Background()

	if _, err := m.CreateRule(ctx, depthRule(0)); err != nil {
		t.Fatal(err)
	}
	m.Evaluate(ctx)
	if got := len(m.Alerts(false)); got != 0 {
		t.Fatalf("alerts = %d, want 0 at exactly the threshold with gt", got)
	}
}

func TestAlertWildcardQueueFiresOncePerPass(t *testing.T) {
	src := &fakeQueues{}
	src.set(
		queue.QueueMetrics{Queue: "orders", Depth: 500},
		queue.QueueMetrics{Queue: "emails", Depth: 500},
	)
	m := newTestAlerts(t, src, nil)
	ctx := context.Background()

	r := depthRule(0)
	r.Queue = ""
	if _, err := m.CreateRule(ctx, r); err != nil {
		t.Fatal(err)
	}
	m.Evaluate(ctx)
	if got := len(m.Alerts(false)); got != 1 {
		t.Fatalf("alerts = %d, want one per rule per pass", got)
	}
}

func TestAlertInactiveRuleSkipped(t *testing.T) {
	src := &fakeQueues{}
	src.set(queue.QueueMetrics{Queue: "orders", Depth: 500})
	m := newTestAlerts(t, src, nil)
	ctx := context.Background()

	r := depthRule(0)
	r.Active = false
	if _, err := m.CreateRule(ctx, r); err != nil {
		t.Fatal(err)
	}
	m.Evaluate(ctx)
	if got := len(m.Alerts(false)); got != 0 {
		t.Fatalf("alerts = %d, want 0 for inactive rule", got)
	}
}

func TestAlertResolveDoesNotResetCooldown(t *testing.T) {
	src := &fakeQueues{}
	src.set(queue.QueueMetrics{Queue: "orders", Depth: 500})
	m := newTestAlerts(t, src, nil)
	ctx := context.Background()

	now := int64(1_000_000)
	m.nowMs = func() int64 { return now }

	if _, err := m.CreateRule(ctx, depthRule(300*time.Second)); err != nil {
		t.Fatal(err)
	}
	m.Evaluate(ctx)

	fired := m.Alerts(true)
	if len(fired) != 1 {
		t.Fatalf("active alerts = %d, want 1", len(fired))
	}
	now += 10
	resolved, err := m.ResolveAlert(ctx, fired[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != AlertResolved || resolved.ResolvedMs != now {
		t.Fatalf("resolved alert = %+v", resolved)
	}
	if got := len(m.Alerts(true)); got != 0 {
		t.Fatalf("active alerts after resolve = %d, want 0", got)
	}
	if got := len(m.Alerts(false)); got != 1 {
		t.Fatalf("total alerts after resolve = %d, want 1", got)
	}

	// Resolving must not let the rule refire early.
	now += 100
	m.Evaluate(ctx)
	if got := len(m.Alerts(false)); got != 1 {
		t.Fatalf("alerts = %d, resolve reset the cooldown", got)
	}

	if _, err := m.ResolveAlert(ctx, "nope"); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("err = %v, want ErrAlertNotFound", err)
	}
}

func TestAlertNotifierFailureStillRecords(t *testing.T) {
	src := &fakeQueues{}
	src.set(queue.QueueMetrics{Queue: "orders", Depth: 500})
	notifier := &fakeNotifier{fail: true}
	m := newTestAlerts(t, src, notifier)
	ctx := context.Background()

	if _, err := m.CreateRule(ctx, depthRule(0)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		m.Evaluate(ctx)
	}
	// Delivery failed every time, alerts are recorded regardless.
	if got := len(m.Alerts(false)); got != 5 {
		t.Fatalf("alerts = %d, want 5", got)
	}
}

func TestAlertRulesPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	src := &fakeQueues{}
	src.set(queue.QueueMetrics{Queue: "orders", Depth: 500})
	c := NewCollector(src, time.Hour, 4, nil)
	m, err := NewAlertManager(db, c, nil, nil, AlertOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	created, err := m.CreateRule(ctx, depthRule(300*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	m.Evaluate(ctx)
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	m2, err := NewAlertManager(db2, c, nil, nil, AlertOptions{})
	if err != nil {
		t.Fatal(err)
	}
	rules := m2.Rules()
	if len(rules) != 1 {
		t.Fatalf("rules after restart = %d, want 1", len(rules))
	}
	got := rules[0]
	if got.ID != created.ID || got.Name != created.Name {
		t.Fatalf("restored rule = %+v", got)
	}
	if got.LastTriggeredMs == 0 {
		t.Fatal("cooldown stamp not persisted across restart")
	}
}

func TestAlertRuleUpdateAndDelete(t *testing.T) {
	src := &fakeQueues{}
	src.set(queue.QueueMetrics{Queue: "orders", Depth: 500})
	m := newTestAlerts(t, src, nil)
	ctx := context.Background()

	created, err := m.CreateRule(ctx, depthRule(300*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	m.Evaluate(ctx)

	created.Threshold = 1000
	updated, err := m.UpdateRule(ctx, created)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Threshold != 1000 {
		t.Fatalf("threshold = %g, want 1000", updated.Threshold)
	}
	if updated.LastTriggeredMs == 0 {
		t.Fatal("update must keep the cooldown stamp")
	}

	if err := m.DeleteRule(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if len(m.Rules()) != 0 {
		t.Fatal("rule still listed after delete")
	}
	if err := m.DeleteRule(ctx, created.ID); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("err = %v, want ErrAlertNotFound", err)
	}
	// Fired alerts outlive their rule.
	if got := len(m.Alerts(false)); got != 1 {
		t.Fatalf("alerts = %d, want 1", got)
	}
}
