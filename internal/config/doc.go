// Package config provides loading and environment overlay for node
// configuration. It exposes a Default() baseline, file loading (JSON or
// YAML by extension) and an MQ_* environment overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/queued.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, _ := runtime.Open(cfg, logger)
//	defer rt.Close()
package config
