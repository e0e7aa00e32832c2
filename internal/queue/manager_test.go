package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(db, Options{SweepInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
		_ = db.Close()
	})
	return m
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// fastRetry keeps retry delays short enough for tests.
func fastRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: BackoffFixed, InitialDelayMs: 10}
}

func mustCreate(t *testing.T, m *Manager, cfg QueueConfig) QueueConfig {
	t.Helper()
	out, err := m.CreateQueue(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCreateQueueDeclaresDeadLetter(t *testing.T) {
	m := newTestManager(t)
	mustCreate(t, m, QueueConfig{Name: "jobs", DeadLetterQueue: "jobs.dead"})

	if _, err := m.GetQueue("jobs.dead"); err != nil {
		t.Fatalf("dead-letter queue not auto-declared: %v", err)
	}
	if _, err := m.CreateQueue(context.Background(), QueueConfig{Name: "jobs"}); !errors.Is(err, ErrQueueExists) {
		t.Fatalf("got %v, want ErrQueueExists", err)
	}
}

func TestEnqueueUnknownQueue(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Enqueue(context.Background(), "nope", "x", nil, EnqueueOptions{})
	if !errors.Is(err, ErrQueueNotFound) {
		t.Fatalf("got %v, want ErrQueueNotFound", err)
	}
}

func TestSuccessfulProcessing(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "jobs", DeadLetterQueue: "jobs.dead", Retry: fastRetry(3)})

	var mu sync.Mutex
	var seen []*Message
	inst, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "jobs",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			mu.Lock()
			seen = append(seen, msg)
			mu.Unlock()
			return Success()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if inst.Group != DefaultGroup {
		t.Fatalf("group defaulted to %q, want %q", inst.Group, DefaultGroup)
	}

	id, err := m.Enqueue(ctx, "jobs", "email.send", map[string]string{"to": "a@b.c"}, EnqueueOptions{Priority: PriorityHigh})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "message processed", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})
	mu.Lock()
	got := seen[0]
	mu.Unlock()
	if got.ID != id || got.Type != "email.send" || got.Priority != PriorityHigh {
		t.Fatalf("unexpected message: %+v", got)
	}

	waitFor(t, 5*time.Second, "metrics settle", func() bool {
		qm, err := m.Metrics(ctx, "jobs")
		return err == nil && qm.ProcessedCount == 1 && qm.Depth == 0
	})
	dlq, err := m.Metrics(ctx, "jobs.dead")
	if err != nil {
		t.Fatal(err)
	}
	if dlq.EnqueueCount != 0 || dlq.Depth != 0 {
		t.Fatalf("success must not touch the dead-letter queue: %+v", dlq)
	}

	cs := m.Consumers("jobs")
	if len(cs) != 1 || cs[0].ProcessedCount != 1 || cs[0].Status != ConsumerActive {
		t.Fatalf("consumer snapshot: %+v", cs)
	}
}

func TestRetryExhaustionDeadLetters(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "flaky", DeadLetterQueue: "flaky.dead", Retry: fastRetry(3)})

	var invocations atomic.Int64
	if _, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "flaky",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			invocations.Add(1)
			return Retry(errors.New("downstream unavailable"))
		},
	}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var dead []*Message
	if _, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "flaky.dead",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			mu.Lock()
			dead = append(dead, msg)
			mu.Unlock()
			return Success()
		},
	}); err != nil {
		t.Fatal(err)
	}

	id, err := m.Enqueue(ctx, "flaky", "charge.card", nil, EnqueueOptions{})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 10*time.Second, "dead-letter arrival", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dead) >= 1
	})
	time.Sleep(100 * time.Millisecond) // catch any extra deliveries

	mu.Lock()
	defer mu.Unlock()
	if len(dead) != 1 {
		t.Fatalf("dead-lettered %d times, want exactly 1", len(dead))
	}
	d := dead[0]
	if d.ID != id {
		t.Fatalf("dead letter id %q, want %q", d.ID, id)
	}
	if d.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", d.Attempts)
	}
	if n := invocations.Load(); n != 3 {
		t.Fatalf("handler invoked %d times, want 3", n)
	}
	if d.Metadata[MetaOriginalQueue] != "flaky" {
		t.Fatalf("originalQueue = %q", d.Metadata[MetaOriginalQueue])
	}
	if !strings.Contains(d.Metadata[MetaLastError], "downstream unavailable") {
		t.Fatalf("lastError = %q", d.Metadata[MetaLastError])
	}
	if d.Metadata[MetaFailedAt] == "" {
		t.Fatal("failedAt missing")
	}
	if d.Queue != "flaky.dead" {
		t.Fatalf("queue = %q, want flaky.dead", d.Queue)
	}
}

func TestFailDeadLettersImmediately(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "strict", DeadLetterQueue: "strict.dead", Retry: fastRetry(5)})

	var invocations atomic.Int64
	if _, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "strict",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			invocations.Add(1)
			return Fail(errors.New("schema violation"))
		},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Enqueue(ctx, "strict", "ingest", nil, EnqueueOptions{}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "immediate dead-letter", func() bool {
		qm, err := m.Metrics(ctx, "strict.dead")
		return err == nil && qm.EnqueueCount == 1
	})
	if n := invocations.Load(); n != 1 {
		t.Fatalf("handler invoked %d times, want 1 (no retries on fail)", n)
	}
}

func TestRequeueDoesNotCountAttempt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "deferrable", Retry: fastRetry(1)})

	var mu sync.Mutex
	var attempts []int
	if _, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "deferrable",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			mu.Lock()
			attempts = append(attempts, msg.Attempts)
			n := len(attempts)
			mu.Unlock()
			if n == 1 {
				return Requeue()
			}
			return Success()
		},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Enqueue(ctx, "deferrable", "later", nil, EnqueueOptions{}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "second delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if attempts[0] != 0 || attempts[1] != 0 {
		t.Fatalf("requeue must not increment attempts, got %v", attempts)
	}
}

func TestProcessingTimeoutRetries(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{
		Name:                "slow",
		DeadLetterQueue:     "slow.dead",
		ProcessingTimeoutMs: 50,
		Retry:               fastRetry(1),
	})

	if _, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "slow",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			<-ctx.Done()
			time.Sleep(500 * time.Millisecond)
			return Success()
		},
	}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var dead []*Message
	if _, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "slow.dead",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			mu.Lock()
			dead = append(dead, msg)
			mu.Unlock()
			return Success()
		},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Enqueue(ctx, "slow", "crunch", nil, EnqueueOptions{}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 10*time.Second, "timeout dead-letter", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dead) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(dead[0].Metadata[MetaLastError], "processing timeout") {
		t.Fatalf("lastError = %q", dead[0].Metadata[MetaLastError])
	}
}

func TestPanicIsRetryable(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "crashy", DeadLetterQueue: "crashy.dead", Retry: fastRetry(1)})

	if _, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "crashy",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			panic("nil map write")
		},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Enqueue(ctx, "crashy", "boom", nil, EnqueueOptions{}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "panic dead-letter", func() bool {
		qm, err := m.Metrics(ctx, "crashy.dead")
		return err == nil && qm.EnqueueCount == 1
	})
}

func TestExpiredMessageDropped(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "ttl", DeadLetterQueue: "ttl.dead"})

	var invocations atomic.Int64
	if _, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "ttl",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			invocations.Add(1)
			return Success()
		},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Enqueue(ctx, "ttl", "stale", nil, EnqueueOptions{ExpiresAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "expiry drop", func() bool {
		qm, err := m.Metrics(ctx, "ttl")
		return err == nil && qm.ExpiredCount == 1 && qm.Depth == 0
	})
	if n := invocations.Load(); n != 0 {
		t.Fatalf("handler invoked %d times for expired message", n)
	}
	dlq, _ := m.Metrics(ctx, "ttl.dead")
	if dlq.EnqueueCount != 0 {
		t.Fatal("expired messages must not be dead-lettered")
	}
}

func TestQueueFullBackpressure(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "tiny", MaxLength: 2})

	for i := 0; i < 2; i++ {
		if _, err := m.Enqueue(ctx, "tiny", "x", nil, EnqueueOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.Enqueue(ctx, "tiny", "x", nil, EnqueueOptions{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull", err)
	}
}

// Delayed messages occupy one slot each toward maxLength, not two.
func TestDelayedMessagesCountOnceAgainstMaxLength(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "tiny", MaxLength: 4})

	for i := 0; i < 2; i++ {
		if _, err := m.Enqueue(ctx, "tiny", "x", nil, EnqueueOptions{Delay: time.Hour}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := m.Enqueue(ctx, "tiny", "x", nil, EnqueueOptions{}); err != nil {
			t.Fatalf("enqueue %d with 2 of 4 slots delayed: %v", i+3, err)
		}
	}
	if _, err := m.Enqueue(ctx, "tiny", "x", nil, EnqueueOptions{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("got %v, want ErrQueueFull at capacity", err)
	}
}

func TestDelayedEnqueueNotVisibleEarly(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "scheduled"})

	var deliveredAt atomic.Int64
	if _, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "scheduled",
		BlockFor: 50 * time.Millisecond,
		Handler: func(ctx context.Context, msg *Message) Outcome {
			deliveredAt.Store(time.Now().UnixMilli())
			return Success()
		},
	}); err != nil {
		t.Fatal(err)
	}

	start := time.Now().UnixMilli()
	if _, err := m.Enqueue(ctx, "scheduled", "later", nil, EnqueueOptions{Delay: 300 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "delayed delivery", func() bool { return deliveredAt.Load() != 0 })
	if elapsed := deliveredAt.Load() - start; elapsed < 300 {
		t.Fatalf("delivered after %dms, want >= 300ms", elapsed)
	}
}

func TestEnqueueBatchPartialValidity(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "bulk"})

	results, err := m.EnqueueBatch(ctx, "bulk", []BatchItem{
		{Type: "a", Payload: map[string]int{"n": 1}},
		{Type: ""}, // rejected: no type
		{Type: "c", Opts: EnqueueOptions{Priority: "urgent"}}, // rejected: bad priority
		{Type: "d"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Err != nil || results[0].ID == "" {
		t.Fatalf("item 0: %+v", results[0])
	}
	if results[1].Err == nil || results[2].Err == nil {
		t.Fatal("invalid items must be rejected")
	}
	if results[3].Err != nil || results[3].ID == "" {
		t.Fatalf("item 3: %+v", results[3])
	}
	qm, err := m.Metrics(ctx, "bulk")
	if err != nil {
		t.Fatal(err)
	}
	if qm.EnqueueCount != 2 {
		t.Fatalf("enqueueCount = %d, want 2", qm.EnqueueCount)
	}
}

func TestStopConsumer(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "jobs"})

	inst, err := m.RegisterConsumer(ctx, ConsumerConfig{
		Queue:    "jobs",
		BlockFor: 50 * time.Millisecond,
		Handler:  func(ctx context.Context, msg *Message) Outcome { return Success() },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.StopConsumer(ctx, inst.ID); err != nil {
		t.Fatal(err)
	}
	if n := m.ConsumerCount("jobs"); n != 0 {
		t.Fatalf("consumer count = %d after stop", n)
	}
	if err := m.StopConsumer(ctx, inst.ID); !errors.Is(err, ErrConsumerNotFound) {
		t.Fatalf("got %v, want ErrConsumerNotFound", err)
	}
}

func TestDeleteQueueRemovesData(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	mustCreate(t, m, QueueConfig{Name: "short-lived"})
	if _, err := m.Enqueue(ctx, "short-lived", "x", nil, EnqueueOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := m.DeleteQueue(ctx, "short-lived"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetQueue("short-lived"); !errors.Is(err, ErrQueueNotFound) {
		t.Fatalf("got %v, want ErrQueueNotFound", err)
	}

	// re-declaring starts from a clean log
	mustCreate(t, m, QueueConfig{Name: "short-lived"})
	qm, err := m.Metrics(ctx, "short-lived")
	if err != nil {
		t.Fatal(err)
	}
	if qm.Depth != 0 {
		t.Fatalf("depth = %d after re-declare, want 0", qm.Depth)
	}
}

func TestManagerRestoresQueues(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(db, Options{SweepInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	mustCreate(t, m, QueueConfig{Name: "durable", MaxLength: 7, Persistent: true})
	if _, err := m.Enqueue(ctx, "durable", "x", nil, EnqueueOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Shutdown(ctx); err != nil {
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
	m2, err := NewManager(db2, Options{SweepInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Shutdown(ctx)

	cfg, err := m2.GetQueue("durable")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxLength != 7 {
		t.Fatalf("config not restored: %+v", cfg)
	}
	qm, err := m2.Metrics(ctx, "durable")
	if err != nil {
		t.Fatal(err)
	}
	if qm.Depth != 1 {
		t.Fatalf("depth = %d after restart, want 1", qm.Depth)
	}
}

// A queue created without the persistence flag keeps its declaration across
// restarts but sheds its messages.
func TestNonPersistentQueueFlushedOnRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(db, Options{SweepInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	mustCreate(t, m, QueueConfig{Name: "scratch"})
	for i := 0; i < 3; i++ {
		if _, err := m.Enqueue(ctx, "scratch", "x", nil, EnqueueOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Shutdown(ctx); err != nil {
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
	m2, err := NewManager(db2, Options{SweepInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	defer m2.Shutdown(ctx)

	if _, err := m2.GetQueue("scratch"); err != nil {
		t.Fatalf("declaration lost across restart: %v", err)
	}
	qm, err := m2.Metrics(ctx, "scratch")
	if err != nil {
		t.Fatal(err)
	}
	if qm.Depth != 0 {
		t.Fatalf("depth = %d after restart, want 0 for non-persistent queue", qm.Depth)
	}
}
