package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/config"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"
	return cfg
}

func TestOpenBuildsServiceGraph(t *testing.T) {
	rt, err := Open(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close(context.Background())

	if rt.Queues() == nil || rt.Pool() == nil || rt.Rules() == nil ||
		rt.Scheduler() == nil || rt.Scaling() == nil || rt.Collector() == nil ||
		rt.Health() == nil || rt.Alerts() == nil || rt.Audit() == nil {
		t.Fatal("service graph incomplete")
	}
	if got := rt.Health().Check(context.Background()).Status; got != "healthy" {
		t.Fatalf("fresh node health = %s", got)
	}
}

func TestRuntimeEndToEndEnqueue(t *testing.T) {
	rt, err := Open(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close(context.Background())
	ctx := context.Background()

	if _, err := rt.Queues().CreateQueue(ctx, queue.QueueConfig{Name: "orders"}); err != nil {
		t.Fatalf("create queue: %v", err)
	}
	if _, err := rt.Queues().Enqueue(ctx, "orders", "order.created", map[string]any{"id": 1}, queue.EnqueueOptions{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	m, err := rt.Queues().Metrics(ctx, "orders")
	if err != nil {
		t.Fatal(err)
	}
	if m.Depth != 1 {
		t.Fatalf("depth = %d, want 1", m.Depth)
	}
}

// A constructor failure partway through Open must stop the queue manager's
// sweep loop and release the store so the data dir can be reopened.
func TestOpenFailureReleasesStore(t *testing.T) {
	cfg := testConfig(t)

	db, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.DataDir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatal(err)
	}
	// a corrupt schedule record makes the scheduler restore fail after the
	// manager has already started
	if err := db.Set([]byte("sched/bad"), []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(cfg, nil, nil); err == nil {
		t.Fatal("open succeeded over corrupt schedule record")
	}

	db, err = pebblestore.Open(pebblestore.Options{DataDir: cfg.DataDir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("reopen after failed Open: %v", err)
	}
	_ = db.Close()
}

func TestRuntimeCloseIsIdempotentAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Open(cfg, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if _, err := rt.Queues().CreateQueue(ctx, queue.QueueConfig{Name: "orders"}); err != nil {
		t.Fatal(err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	rt2, err := Open(cfg, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt2.Close(ctx)
	if _, err := rt2.Queues().GetQueue("orders"); err != nil {
		t.Fatalf("queue lost across restart: %v", err)
	}
}
