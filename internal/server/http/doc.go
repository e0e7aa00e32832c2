// Package httpserver provides the JSON operator API: queue CRUD and
// enqueue, rule management, schedules, scaling policies, alerts, health
// and metrics.
//
// Example:
//
//	rt, _ := runtime.Open(cfg, nil, logger)
//	s := httpserver.New(rt, logger)
//	_ = s.ListenAndServe(ctx, cfg.HTTPAddr)
package httpserver
