// Package config loads the invoker's configuration: a koanf-backed
// manager layering embedded defaults, an optional YAML file, and
// environment overrides, validated with typed errors.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/beam-cloud/beta9-preloader/pkg/coreerrors"
)

// RedisConfig holds fleet-state store connection settings:
// host, port, password, db, pool sizes, timeout.
type RedisConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"poolSize"`
	MinIdleConns int           `koanf:"minIdleConns"`
	MaxRetries   int           `koanf:"maxRetries"`
	DialTimeout  time.Duration `koanf:"dialTimeout"`
}

// Addr returns the "host:port" dial address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// PoolConfig holds Container Pool tunables.
type PoolConfig struct {
	UserMemoryMB                           int                  `koanf:"userMemoryMB"`
	DefaultKeepAlive                       time.Duration        `koanf:"defaultKeepAlive"`
	PrewarmExpirationCheckInterval         time.Duration        `koanf:"prewarmExpirationCheckInterval"`
	PrewarmExpirationCheckIntervalVariance time.Duration        `koanf:"prewarmExpirationCheckIntervalVariance"`
	Prewarm                                []PrewarmShapeConfig `koanf:"prewarm"`

	// HealthCheckPeriod/HealthMaxFails drive the per-container
	// healthprobe.Prober. HealthCheckPeriod <= 0 disables probing.
	HealthCheckPeriod time.Duration `koanf:"healthCheckPeriod"`
	HealthMaxFails    int           `koanf:"healthMaxFails"`
}

// PreloadConfig holds pre-load planner tunables, including the static
// model catalog seeded into the Model Table at boot.
type PreloadConfig struct {
	ModelMemoryBudgetMB int           `koanf:"modelMemoryBudgetMB"`
	StaggerMin          time.Duration `koanf:"staggerMin"`
	StaggerMax          time.Duration `koanf:"staggerMax"`
	Models              []ModelSeedConfig `koanf:"models"`
}

// ModelSeedConfig describes one statically-known inference model and
// the action that exercises it.
type ModelSeedConfig struct {
	ActionName            string `koanf:"actionName"`
	ModelName             string `koanf:"modelName"`
	ModelLoadingLatencyMs int    `koanf:"modelLoadingLatencyMs"`
	ModelSizeMB           int64  `koanf:"modelSizeMB"`
}

// PrewarmShapeConfig describes one static prewarm shape and its
// optional reactive-scaling parameters.
type PrewarmShapeConfig struct {
	ExecKind          string `koanf:"execKind"`
	MemoryLimitMB     int    `koanf:"memoryLimitMB"`
	InitialCount      int    `koanf:"initialCount"`
	TTLSeconds        int    `koanf:"ttlSeconds"`
	ReactiveMinCount  int    `koanf:"reactiveMinCount"`
	ReactiveMaxCount  int    `koanf:"reactiveMaxCount"`
	ReactiveThreshold int    `koanf:"reactiveThreshold"`
	ReactiveIncrement int    `koanf:"reactiveIncrement"`
}

// MonitoringConfig drives the invoker's metrics.StartPush call at
// startup, when VictoriaMetrics.Enabled is set.
type MonitoringConfig struct {
	VictoriaMetrics VictoriaMetricsConfig `koanf:"victoriaMetrics"`
}

type VictoriaMetricsConfig struct {
	Enabled      bool          `koanf:"enabled"`
	PushURL      string        `koanf:"pushURL"`
	PushInterval time.Duration `koanf:"pushInterval"`
}

// AppConfig is the invoker's top-level configuration.
type AppConfig struct {
	InvokerID  string `koanf:"invokerID"`
	Namespace  string `koanf:"namespace"`
	PrettyLogs bool   `koanf:"prettyLogs"`
	Debug      bool   `koanf:"debug"`

	ControlAddr string `koanf:"controlAddr"`

	// HostIP overrides the auto-detected private IP published to the
	// fleet-state store. Left empty, the invoker falls back to
	// metrics.PrivateIP().
	HostIP string `koanf:"hostIP"`

	Pool       PoolConfig       `koanf:"pool"`
	Preload    PreloadConfig    `koanf:"preload"`
	Redis      RedisConfig      `koanf:"redis"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
}

const defaultsYAML = `
namespace: default
prettyLogs: false
debug: false
controlAddr: "0.0.0.0:9995"
pool:
  userMemoryMB: 8192
  defaultKeepAlive: 10m
  prewarmExpirationCheckInterval: 30s
  prewarmExpirationCheckIntervalVariance: 5s
  healthCheckPeriod: 5s
  healthMaxFails: 3
  prewarm: []
preload:
  modelMemoryBudgetMB: 2047
  staggerMin: 100ms
  staggerMax: 2100ms
  models: []
redis:
  host: localhost
  port: 6379
  db: 0
  poolSize: 300
  minIdleConns: 100
  maxRetries: 1
  dialTimeout: 30s
monitoring:
  victoriaMetrics:
    enabled: false
    pushInterval: 10s
`

// Manager loads AppConfig (validation is AppConfig.Validate), generic over the config type so
// a single loader can also serve tests that need a narrower shape.
type Manager[T any] struct {
	k      *koanf.Koanf
	config T
}

// NewManager builds a config manager: embedded defaults, then an optional
// YAML file at BETA9_PRELOADER_CONFIG (or ./config.yaml if present), then
// environment variables prefixed BETA9_PRELOADER_ with "__" as the nesting
// separator (e.g. BETA9_PRELOADER_REDIS__HOST).
func NewManager[T any]() (*Manager[T], error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}

	path := os.Getenv("BETA9_PRELOADER_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	err := k.Load(env.ProviderWithValue("BETA9_PRELOADER_", ".", func(s string, v string) (string, interface{}) {
		key := strings.ToLower(strings.TrimPrefix(s, "BETA9_PRELOADER_"))
		key = strings.ReplaceAll(key, "__", ".")
		return key, v
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	var cfg T
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &Manager[T]{k: k, config: cfg}, nil
}

// GetConfig returns the loaded configuration value.
func (m *Manager[T]) GetConfig() T {
	return m.config
}

// Validate checks the AppConfig for obvious misconfiguration, returning
// a typed coreerrors.ConfigValidationError on the first problem found.
func (c *AppConfig) Validate() error {
	if c.InvokerID == "" {
		return &coreerrors.ConfigValidationError{Field: "invokerID", Message: "is required"}
	}
	if c.Pool.UserMemoryMB <= 0 {
		return &coreerrors.ConfigValidationError{Field: "pool.userMemoryMB", Message: "must be positive"}
	}
	if c.Preload.ModelMemoryBudgetMB <= 0 {
		return &coreerrors.ConfigValidationError{Field: "preload.modelMemoryBudgetMB", Message: "must be positive"}
	}
	if c.Preload.StaggerMax < c.Preload.StaggerMin {
		return &coreerrors.ConfigValidationError{Field: "preload.staggerMax", Message: "must be >= staggerMin"}
	}
	if c.Redis.Host == "" {
		return &coreerrors.ConfigValidationError{Field: "redis.host", Message: "is required"}
	}
	return nil
}
