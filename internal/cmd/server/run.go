package serverrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/config"
	"github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/runtime"
	httpserver "github.com/freelancing-solutions/jobfinders-mvp-sub000/internal/server/http"
	logpkg "github.com/freelancing-solutions/jobfinders-mvp-sub000/pkg/log"
)

// Run starts the node and blocks until ctx is cancelled or a component
// fails: queue manager, control loops (scheduler, autoscaler, monitor,
// alerts) and the HTTP API.
func Run(ctx context.Context, cfg cfgpkg.Config) error {
	// Layer a local signal context over the provided one so callers that
	// don't pass a signal-aware context still get clean shutdown.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logpkg.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logpkg.InfoLevel
	}
	logger := logpkg.New(logpkg.Options{Level: level, Format: cfg.Log.Format})
	// Pebble and net/http log through the stdlib logger.
	logpkg.RedirectStdLog(logger)

	storeCfg := cfg
	storeCfg.DataDir = filepath.Join(cfg.DataDir, "store")
	rt, err := runtime.Open(storeCfg, nil, logger)
	if err != nil {
		return err
	}

	logger.Info("starting server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("fsync", cfg.Fsync),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
	)

	hsrv := httpserver.New(rt, logger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return ignoreCancel(rt.Scheduler().Run(gctx)) })
	g.Go(func() error { return ignoreCancel(rt.Scaling().Run(gctx)) })
	g.Go(func() error { return ignoreCancel(rt.Collector().Run(gctx)) })
	g.Go(func() error { return ignoreCancel(rt.Alerts().Run(gctx)) })
	g.Go(func() error { return ignoreCancel(hsrv.ListenAndServe(gctx, cfg.HTTPAddr)) })

	err = g.Wait()
	hsrv.Close()

	// Drain consumers before releasing storage.
	cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cerr := rt.Close(cctx); cerr != nil && err == nil {
		err = cerr
	}
	logger.Info("server stopped")
	return err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
