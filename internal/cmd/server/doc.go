// Package serverrun exposes the shared Run entrypoint used by the CLI to
// start the node: runtime, control loops and HTTP API, with signal-driven
// shutdown.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	_ = serverrun.Run(context.Background(), cfg)
package serverrun
