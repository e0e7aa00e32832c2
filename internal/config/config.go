package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level node configuration loaded from file/env.
type Config struct {
	DataDir       string        `json:"dataDir" yaml:"dataDir"`
	HTTPAddr      string        `json:"httpAddr" yaml:"httpAddr"`
	Fsync         string        `json:"fsync" yaml:"fsync"` // always | interval | never
	FsyncInterval Duration      `json:"fsyncInterval" yaml:"fsyncInterval"`
	Log           LogConfig     `json:"log" yaml:"log"`
	Queue         QueueConfig   `json:"queue" yaml:"queue"`
	Monitor       MonitorConfig `json:"monitor" yaml:"monitor"`
	Scaling       ScalingConfig `json:"scaling" yaml:"scaling"`
	Redis         RedisConfig   `json:"redis" yaml:"redis"`
}

// LogConfig selects output verbosity and shape.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format"` // text | json
}

// QueueConfig holds queue-manager tunables.
type QueueConfig struct {
	SweepInterval Duration `json:"sweepInterval" yaml:"sweepInterval"`
}

// MonitorConfig holds sampling and alerting cadence.
type MonitorConfig struct {
	SampleInterval Duration `json:"sampleInterval" yaml:"sampleInterval"`
	HistorySize    int      `json:"historySize" yaml:"historySize"`
	AlertInterval  Duration `json:"alertInterval" yaml:"alertInterval"`
}

// ScalingConfig holds the autoscaler cadence.
type ScalingConfig struct {
	Interval Duration `json:"interval" yaml:"interval"`
}

// RedisConfig, when Addr is set, backs throttle counters with Redis so rate
// limits hold across restarts. Empty Addr keeps them in-process.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// Duration marshals as a Go duration string ("30s") in both JSON and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		DataDir:       DefaultDataDir(),
		HTTPAddr:      "127.0.0.1:7870",
		Fsync:         "interval",
		FsyncInterval: Duration(5 * time.Millisecond),
		Log:           LogConfig{Level: "info", Format: "text"},
		Queue:         QueueConfig{SweepInterval: Duration(time.Second)},
		Monitor: MonitorConfig{
			SampleInterval: Duration(10 * time.Second),
			HistorySize:    360,
			AlertInterval:  Duration(15 * time.Second),
		},
		Scaling: ScalingConfig{Interval: Duration(30 * time.Second)},
	}
}

// Load reads configuration from a JSON or YAML file (by extension), starting
// from defaults. Empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects values the runtime cannot start with.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: dataDir is required")
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("config: httpAddr is required")
	}
	switch c.Fsync {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("config: fsync must be always, interval or never, got %q", c.Fsync)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log format must be text or json, got %q", c.Log.Format)
	}
	if c.Queue.SweepInterval <= 0 {
		return fmt.Errorf("config: queue sweep interval must be positive")
	}
	if c.Monitor.SampleInterval <= 0 || c.Monitor.AlertInterval <= 0 {
		return fmt.Errorf("config: monitor intervals must be positive")
	}
	if c.Monitor.HistorySize <= 0 {
		return fmt.Errorf("config: monitor history size must be positive")
	}
	if c.Scaling.Interval <= 0 {
		return fmt.Errorf("config: scaling interval must be positive")
	}
	return nil
}
