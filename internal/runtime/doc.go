// Package runtime wires storage, config and the service graph of a
// single-node instance: queue manager, consumer pool, rules engine,
// scheduler, autoscaler, monitor and audit trail over one Pebble DB.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	rt, _ := runtime.Open(cfg, nil, logger)
//	defer rt.Close(context.Background())
//	_, _ = rt.Queues().CreateQueue(ctx, queue.QueueConfig{Name: "orders"})
package runtime
