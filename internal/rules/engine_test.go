package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
)

type captureEnqueuer struct {
	mu     sync.Mutex
	msgs   []*queue.Message
	delays []time.Duration
}

func (c *captureEnqueuer) EnqueueMessage(ctx context.Context, msg *queue.Message, delay time.Duration) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.delays = append(c.delays, delay)
	c.mu.Unlock()
	return nil
}

func (c *captureEnqueuer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newTestEngine(t *testing.T) (*Engine, *captureEnqueuer) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	enq := &captureEnqueuer{}
	e, err := NewEngine(db, enq, NewMemoryCounter(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	return e, enq
}

func testMessage(queueName, msgType string) *queue.Message {
	return &queue.Message{
		ID:          "m1",
		Type:        msgType,
		Queue:       queueName,
		Priority:    queue.PriorityNormal,
		CreatedAtMs: time.Now().UnixMilli(),
		Payload:     []byte(`{"amount": 42, "region": "eu"}`),
		Metadata:    map[string]string{"caller": "svc-a"},
	}
}

// Every field the condition environment exposes must compile and evaluate.
// Bare identifiers like `type` collide with CEL built-ins, which is why the
// fields live under the message map.
func TestConditionVocabulary(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	cond := `message.type == "order.created" && message.queue == "orders" &&` +
		` message.priority == "normal" && message.payload.region == "eu" &&` +
		` message.metadata["caller"] == "svc-a" && message.correlation_id == "" &&` +
		` message.age_ms >= 0 && now_ms > 0`
	if _, err := e.CreateFilterRule(ctx, FilterRule{
		Name: "vocab", Condition: cond, Action: ActionReject, Active: true,
	}); err != nil {
		t.Fatalf("create rule over full vocabulary: %v", err)
	}

	res, err := e.DryRun(ctx, testMessage("orders", "order.created"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusRejected {
		t.Fatalf("got status %q, want rejected", res.Status)
	}
}

func TestMalformedConditionFailsCreation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateFilterRule(ctx, FilterRule{Name: "bad", Condition: "message.type ==", Action: ActionReject, Active: true})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}

	_, err = e.CreateThrottleRule(ctx, ThrottleRule{Name: "bad", KeyExpr: "message.metadata[", Limit: 1, WindowMs: 1000, Active: true})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigurationError", err)
	}

	_, err = e.CreateThrottleRule(ctx, ThrottleRule{Name: "bad", KeyExpr: "message.type", Limit: 0, WindowMs: 1000})
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want ConfigurationError for limit", err)
	}
}

func TestFilterReject(t *testing.T) {
	e, enq := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateFilterRule(ctx, FilterRule{
		Name: "block-eu", Condition: `message.payload.region == "eu"`,
		Action: ActionReject, Reason: "region embargo", Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := e.Process(ctx, testMessage("orders", "order.created"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusRejected || res.Reason != "region embargo" {
		t.Fatalf("got %+v, want rejected with reason", res)
	}
	if enq.count() != 0 {
		t.Fatal("rejected message must not be enqueued")
	}

	// non-matching message passes
	msg := testMessage("orders", "order.created")
	msg.Payload = []byte(`{"region":"us"}`)
	res, err = e.Process(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAccepted {
		t.Fatalf("got %s, want accepted", res.Status)
	}
}

func TestFilterTransformPatchesMessage(t *testing.T) {
	e, enq := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateFilterRule(ctx, FilterRule{
		Name: "tag", Condition: `message.type == "order.created"`, Action: ActionTransform,
		Transform: &Transform{Queue: "orders-eu", SetMetadata: map[string]string{"lane": "eu"}},
		Active:    true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := e.Process(ctx, testMessage("orders", "order.created"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusRouted || res.Queue != "orders-eu" || !res.Enqueued {
		t.Fatalf("got %+v, want routed to orders-eu", res)
	}
	if enq.count() != 1 {
		t.Fatalf("enqueued %d, want 1", enq.count())
	}
	enq.mu.Lock()
	got := enq.msgs[0]
	enq.mu.Unlock()
	if got.Queue != "orders-eu" || got.Metadata["lane"] != "eu" {
		t.Fatalf("transform not applied: %+v", got)
	}
}

func TestInactiveRulesSkipped(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateFilterRule(ctx, FilterRule{
		Name: "off", Condition: "true", Action: ActionReject, Active: false,
	}); err != nil {
		t.Fatal(err)
	}
	res, err := e.Process(ctx, testMessage("orders", "x"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAccepted {
		t.Fatalf("inactive rule must not fire: %+v", res)
	}
}

func TestThrottleSlidingWindow(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateThrottleRule(ctx, ThrottleRule{
		Name: "per-caller", KeyExpr: `message.metadata["caller"]`, Limit: 2, WindowMs: 3600_000, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		res, err := e.Process(ctx, testMessage("orders", "x"))
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusAccepted {
			t.Fatalf("hit %d: got %s, want accepted", i, res.Status)
		}
	}
	res, err := e.Process(ctx, testMessage("orders", "x"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusThrottled {
		t.Fatalf("got %s, want throttled", res.Status)
	}

	// a different key has its own window
	other := testMessage("orders", "x")
	other.Metadata["caller"] = "svc-b"
	res, err = e.Process(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAccepted {
		t.Fatalf("got %s, want accepted for fresh key", res.Status)
	}
}

func TestDryRunHasNoSideEffects(t *testing.T) {
	e, enq := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateThrottleRule(ctx, ThrottleRule{
		Name: "per-caller", KeyExpr: `message.metadata["caller"]`, Limit: 2, WindowMs: 3600_000, Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateRoutingRule(ctx, RoutingRule{
		Name: "reroute", Condition: "true", TargetQueue: "elsewhere", Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		res, err := e.DryRun(ctx, testMessage("orders", "x"))
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusRouted || res.Queue != "elsewhere" {
			t.Fatalf("dry run %d: %+v", i, res)
		}
		if res.Enqueued {
			t.Fatal("dry run must not enqueue")
		}
	}
	if enq.count() != 0 {
		t.Fatal("dry run called the enqueuer")
	}

	// the throttle window is still empty: two real hits pass
	for i := 0; i < 2; i++ {
		res, err := e.Process(ctx, testMessage("orders", "x"))
		if err != nil {
			t.Fatal(err)
		}
		if res.Status == StatusThrottled {
			t.Fatalf("dry runs consumed the window at hit %d", i)
		}
	}
}

func TestPriorityHighestScoreWins(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreatePriorityRule(ctx, PriorityRule{
		Name: "big-order", Condition: `message.payload.amount >= 10`, Score: 850, Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreatePriorityRule(ctx, PriorityRule{
		Name: "any-order", Condition: `message.type == "order.created"`, Score: 300, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := e.DryRun(ctx, testMessage("orders", "order.created"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Priority != queue.PriorityHigh {
		t.Fatalf("priority = %s, want high (score 850)", res.Priority)
	}

	// ties go to the earliest declared rule
	if _, err := e.CreatePriorityRule(ctx, PriorityRule{
		Name: "late-tie", Condition: "true", Score: 850, Queue: "should-not-win", Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	res, err = e.DryRun(ctx, testMessage("orders", "order.created"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Queue == "should-not-win" {
		t.Fatal("tie must resolve to the earliest declared rule")
	}
}

func TestPriorityLevelMapping(t *testing.T) {
	cases := []struct {
		score int
		want  queue.Priority
	}{
		{1000, queue.PriorityHigh}, {800, queue.PriorityHigh},
		{799, queue.PriorityNormal}, {200, queue.PriorityNormal},
		{199, queue.PriorityLow}, {0, queue.PriorityLow},
	}
	for _, c := range cases {
		if got := PriorityLevel(c.score); got != c.want {
			t.Fatalf("level(%d) = %s, want %s", c.score, got, c.want)
		}
	}
}

// Rerouting must not collapse a pending delivery delay.
func TestRoutingKeepsRemainingDelay(t *testing.T) {
	e, enq := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRoutingRule(ctx, RoutingRule{
		Name: "reroute", Condition: "true", TargetQueue: "elsewhere", Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	msg := testMessage("orders", "order.created")
	msg.DelayUntilMs = time.Now().Add(time.Minute).UnixMilli()
	res, err := e.Process(ctx, msg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusRouted || enq.count() != 1 {
		t.Fatalf("expected one routed enqueue, got %+v", res)
	}
	enq.mu.Lock()
	delay := enq.delays[0]
	enq.mu.Unlock()
	if delay < 50*time.Second || delay > time.Minute {
		t.Fatalf("routed with delay %v, want the ~1m remainder", delay)
	}
}

func TestRoutingFirstMatchShortCircuits(t *testing.T) {
	e, enq := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.CreateRoutingRule(ctx, RoutingRule{
		Name: "first", Condition: `message.payload.region == "eu"`, TargetQueue: "orders-eu", Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateRoutingRule(ctx, RoutingRule{
		Name: "second", Condition: "true", TargetQueue: "orders-other", Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := e.Process(ctx, testMessage("orders", "order.created"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Queue != "orders-eu" {
		t.Fatalf("queue = %s, want orders-eu (first match wins)", res.Queue)
	}
	if enq.count() != 1 {
		t.Fatalf("enqueued %d, want 1", enq.count())
	}

	// same-queue result skips the enqueue entirely
	if err := e.DeleteRoutingRule(ctx, e.RoutingRules()[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteRoutingRule(ctx, e.RoutingRules()[0].ID); err != nil {
		t.Fatal(err)
	}
	res, err = e.Process(ctx, testMessage("orders", "order.created"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAccepted || enq.count() != 1 {
		t.Fatalf("no-op routing must not enqueue: %+v", res)
	}
}

func TestStageOrderFilterBeforeRouting(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	// the filter stamps metadata the routing condition depends on
	if _, err := e.CreateFilterRule(ctx, FilterRule{
		Name: "stamp", Condition: "true", Action: ActionTransform,
		Transform: &Transform{SetMetadata: map[string]string{"lane": "fast"}},
		Active:    true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateRoutingRule(ctx, RoutingRule{
		Name: "fast-lane", Condition: `message.metadata["lane"] == "fast"`, TargetQueue: "express", Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := e.DryRun(ctx, testMessage("orders", "x"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Queue != "express" {
		t.Fatalf("queue = %s, want express (filter runs before routing)", res.Queue)
	}
}

func TestRulesSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(db, &captureEnqueuer{}, NewMemoryCounter(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	created, err := e.CreateRoutingRule(ctx, RoutingRule{
		Name: "persisted", Condition: "true", TargetQueue: "elsewhere", Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	e2, err := NewEngine(db2, &captureEnqueuer{}, NewMemoryCounter(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	rs := e2.RoutingRules()
	if len(rs) != 1 || rs[0].ID != created.ID || rs[0].TargetQueue != "elsewhere" {
		t.Fatalf("rules not restored: %+v", rs)
	}
	res, err := e2.DryRun(ctx, testMessage("orders", "x"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Queue != "elsewhere" {
		t.Fatal("restored rule not recompiled")
	}
}

func TestMemoryCounterWindowSlides(t *testing.T) {
	c := NewMemoryCounter(16)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.Allow(ctx, "k", 3, 50*time.Millisecond)
		if err != nil || !ok {
			t.Fatalf("hit %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := c.Allow(ctx, "k", 3, 50*time.Millisecond); ok {
		t.Fatal("window full, want deny")
	}
	time.Sleep(70 * time.Millisecond)
	if ok, _ := c.Allow(ctx, "k", 3, 50*time.Millisecond); !ok {
		t.Fatal("window should have slid past old hits")
	}
}
