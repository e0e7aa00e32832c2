package config

import (
	"os"
	"strconv"
	"time"
)

// FromEnv overlays MQ_* environment variables onto cfg. Malformed values are
// ignored so a bad env never masks the file config.
func FromEnv(cfg *Config) {
	if v := os.Getenv("MQ_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MQ_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("MQ_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	if v := os.Getenv("MQ_FSYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FsyncInterval = Duration(d)
		}
	}
	if v := os.Getenv("MQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MQ_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("MQ_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.SweepInterval = Duration(d)
		}
	}
	if v := os.Getenv("MQ_MONITOR_SAMPLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.SampleInterval = Duration(d)
		}
	}
	if v := os.Getenv("MQ_MONITOR_HISTORY_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Monitor.HistorySize = n
		}
	}
	if v := os.Getenv("MQ_ALERT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.AlertInterval = Duration(d)
		}
	}
	if v := os.Getenv("MQ_SCALING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scaling.Interval = Duration(d)
		}
	}
	if v := os.Getenv("MQ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MQ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MQ_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
}
