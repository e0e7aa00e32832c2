package runtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/audit"
	cfgpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/config"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/monitor"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/queue"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/rules"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/scaling"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/scheduler"
	pebblestore "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/storage/pebble"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// Runtime wires storage, config and every service of a single-node instance.
// Services share one Pebble DB; nothing here is a package global.
type Runtime struct {
	config cfgpkg.Config
	logger logpkg.Logger

	db        *pebblestore.DB
	rdb       *redis.Client
	audit     *audit.Log
	manager   *queue.Manager
	pool      *queue.Pool
	rules     *rules.Engine
	scheduler *scheduler.Scheduler
	scaling   *scaling.Service
	collector *monitor.Collector
	health    *monitor.HealthChecker
	alerts    *monitor.AlertManager
}

// Open builds the full service graph. Notifier may be nil; alerts then stay
// log-only.
func Open(cfg cfgpkg.Config, notifier monitor.Notifier, logger logpkg.Logger) (*Runtime, error) {
	if logger == nil {
		logger = logpkg.Discard()
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfg.DataDir,
		Fsync:         fsyncMode(cfg.Fsync),
		FsyncInterval: cfg.FsyncInterval.Std(),
	})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{config: cfg, logger: logger, db: db}

	rt.audit = audit.NewLog(db, logger)

	rt.manager, err = queue.NewManager(db, queue.Options{
		Logger:        logger,
		SweepInterval: cfg.Queue.SweepInterval.Std(),
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	rt.pool = queue.NewPool(rt.manager, logger)

	var counter rules.Counter
	if cfg.Redis.Addr != "" {
		rt.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		counter = rules.NewRedisCounter(rt.rdb, "")
	} else {
		counter = rules.NewMemoryCounter(0)
	}
	rt.rules, err = rules.NewEngine(db, rt.manager, counter, logger)
	if err != nil {
		rt.closePartial()
		return nil, err
	}

	rt.scheduler, err = scheduler.New(db, rt.manager, rt.audit, logger)
	if err != nil {
		rt.closePartial()
		return nil, err
	}

	rt.collector = monitor.NewCollector(rt.manager,
		cfg.Monitor.SampleInterval.Std(), cfg.Monitor.HistorySize, logger)
	rt.health = monitor.NewHealthChecker(db, rt.manager, monitor.DefaultHealthThresholds())

	rt.scaling, err = scaling.New(db, rt.collector, rt.pool, rt.audit, scaling.Options{
		Interval: cfg.Scaling.Interval.Std(),
		Logger:   logger,
	})
	if err != nil {
		rt.closePartial()
		return nil, err
	}

	rt.alerts, err = monitor.NewAlertManager(db, rt.collector, notifier, rt.audit, monitor.AlertOptions{
		Interval: cfg.Monitor.AlertInterval.Std(),
		Logger:   logger,
	})
	if err != nil {
		rt.closePartial()
		return nil, err
	}
	return rt, nil
}

func fsyncMode(s string) pebblestore.FsyncMode {
	switch s {
	case "always":
		return pebblestore.FsyncModeAlways
	case "never":
		return pebblestore.FsyncModeNever
	default:
		return pebblestore.FsyncModeInterval
	}
}

func (r *Runtime) closePartial() {
	// the manager's sweep goroutine must stop before the store goes away
	if r.manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.manager.Shutdown(ctx)
		cancel()
	}
	if r.rdb != nil {
		_ = r.rdb.Close()
	}
	_ = r.db.Close()
}

// Close drains consumers then releases storage. Safe to call once.
func (r *Runtime) Close(ctx context.Context) error {
	var firstErr error
	if r.manager != nil {
		if err := r.manager.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.rdb != nil {
		if err := r.rdb.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (r *Runtime) Config() cfgpkg.Config           { return r.config }
func (r *Runtime) DB() *pebblestore.DB             { return r.db }
func (r *Runtime) Audit() *audit.Log               { return r.audit }
func (r *Runtime) Queues() *queue.Manager          { return r.manager }
func (r *Runtime) Pool() *queue.Pool               { return r.pool }
func (r *Runtime) Rules() *rules.Engine            { return r.rules }
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.scheduler }
func (r *Runtime) Scaling() *scaling.Service       { return r.scaling }
func (r *Runtime) Collector() *monitor.Collector   { return r.collector }
func (r *Runtime) Health() *monitor.HealthChecker  { return r.health }
func (r *Runtime) Alerts() *monitor.AlertManager   { return r.alerts }
