// Package config loads the daemon's TOML configuration, grounded on the
// retrieval pack's daemon config loader: defaults first, then an optional
// file, then an INFERCORE_-prefixed environment overlay.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/infercore/infercore/internal/bulkhead"
	"github.com/infercore/infercore/internal/circuitbreaker"
	"github.com/infercore/infercore/internal/plugin"
	"github.com/infercore/infercore/internal/selection"
	"github.com/infercore/infercore/internal/warmpool"
)

// Config holds every tunable the orchestrator's collaborators need.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Pool      PoolConfig      `toml:"pool"`
	Selection SelectionConfig `toml:"selection"`
	Quota     QuotaConfig     `toml:"quota"`
	Resilience ResilienceConfig `toml:"resilience"`
	Bulkhead  BulkheadConfig  `toml:"bulkhead"`
	Plugins   PluginsConfig   `toml:"plugins"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig identifies this process.
type NodeConfig struct {
	ID string `toml:"id"`
}

// PoolConfig controls the warm pool (C5).
type PoolConfig struct {
	MaxSize int    `toml:"max_size"`
	IdleTTL string `toml:"idle_ttl"`
}

// Duration parses IdleTTL, falling back to warmpool's own default on error
// or an empty string.
func (p PoolConfig) Duration() time.Duration {
	if p.IdleTTL == "" {
		return warmpool.DefaultConfig().IdleTTL
	}
	d, err := time.ParseDuration(p.IdleTTL)
	if err != nil {
		return warmpool.DefaultConfig().IdleTTL
	}
	return d
}

// SelectionConfig controls the selection policy (C3).
type SelectionConfig struct {
	Strategy string  `toml:"strategy"`
	Device   float64 `toml:"w_device"`
	Format   float64 `toml:"w_format"`
	Latency  float64 `toml:"w_latency"`
	Memory   float64 `toml:"w_memory"`
	Health   float64 `toml:"w_health"`
	Cost     float64 `toml:"w_cost"`
	Load     float64 `toml:"w_load"`
}

func (s SelectionConfig) Weights() selection.Weights {
	if s.Device == 0 && s.Format == 0 && s.Latency == 0 && s.Memory == 0 &&
		s.Health == 0 && s.Cost == 0 && s.Load == 0 {
		return selection.DefaultWeights()
	}
	return selection.Weights{
		Device: s.Device, Format: s.Format, Latency: s.Latency, Memory: s.Memory,
		Health: s.Health, Cost: s.Cost, Load: s.Load,
	}
}

// QuotaConfig sets the default per-tier quota envelope (§4.4, §12 SLA tiers).
type QuotaConfig struct {
	DefaultHourlyLimit  int64 `toml:"default_hourly_limit"`
	DefaultRatePerSecond float64 `toml:"default_rate_per_second"`
	DefaultBucketCapacity float64 `toml:"default_bucket_capacity"`
	DefaultMaxConcurrent int `toml:"default_max_concurrent"`
}

// ResilienceConfig controls the circuit breaker (C8).
type ResilienceConfig struct {
	FailureThreshold int    `toml:"failure_threshold"`
	ResetTimeout     string `toml:"reset_timeout"`
	SuccessThreshold int    `toml:"success_threshold"`
}

func (r ResilienceConfig) Breaker() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	if r.FailureThreshold > 0 {
		cfg.FailureThreshold = r.FailureThreshold
	}
	if r.SuccessThreshold > 0 {
		cfg.SuccessThreshold = r.SuccessThreshold
	}
	if r.ResetTimeout != "" {
		if d, err := time.ParseDuration(r.ResetTimeout); err == nil {
			cfg.ResetTimeout = d
		}
	}
	return cfg
}

// BulkheadConfig controls admission (C8).
type BulkheadConfig struct {
	MaxInFlight int `toml:"max_in_flight"`
	MaxQueue    int `toml:"max_queue"`
}

func (b BulkheadConfig) Bulkhead() bulkhead.Config {
	cfg := bulkhead.DefaultConfig()
	if b.MaxInFlight > 0 {
		cfg.MaxInFlight = b.MaxInFlight
	}
	if b.MaxQueue > 0 {
		cfg.MaxQueue = b.MaxQueue
	}
	return cfg
}

// PluginsConfig controls C9 init failure handling.
type PluginsConfig struct {
	Mode string `toml:"mode"` // "strict" or "graceful"
}

func (p PluginsConfig) PluginMode() plugin.Mode {
	if strings.EqualFold(p.Mode, "graceful") {
		return plugin.ModeGraceful
	}
	return plugin.ModeStrict
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// SlogLevel parses Level ("debug", "info", "warn", "error"), defaulting to
// slog.LevelInfo for an empty or unrecognized value.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TelemetryConfig controls the OTel/Prometheus exporters.
type TelemetryConfig struct {
	Enabled        bool `toml:"enabled"`
	PrometheusPort int  `toml:"prometheus_port"`
	OTLPEndpoint   string `toml:"otlp_endpoint"`
}

// Default returns the built-in defaults, overridable by file and environment.
func Default() Config {
	return Config{
		Pool: PoolConfig{MaxSize: 4, IdleTTL: "10m"},
		Selection: SelectionConfig{Strategy: string(selection.StrategyBalanced)},
		Quota: QuotaConfig{
			DefaultHourlyLimit:   10000,
			DefaultRatePerSecond: 20,
			DefaultBucketCapacity: 40,
			DefaultMaxConcurrent: 8,
		},
		Resilience: ResilienceConfig{
			FailureThreshold: 5,
			ResetTimeout:     "30s",
			SuccessThreshold: 3,
		},
		Bulkhead: BulkheadConfig{MaxInFlight: 100, MaxQueue: 50},
		Plugins:  PluginsConfig{Mode: "strict"},
		Logging:  LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Enabled:        true,
			PrometheusPort: 9090,
		},
	}
}

// Load reads defaults, then an optional TOML file at path (skipped if it
// does not exist), then an INFERCORE_-prefixed environment overlay.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverlay(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Validate checks value ranges, returning a sentinel-wrapped error naming
// the first invalid field encountered.
func (c Config) Validate() error {
	if c.Pool.MaxSize <= 0 {
		return fmt.Errorf("%w: pool.max_size must be positive", ErrInvalidConfig)
	}
	if c.Quota.DefaultMaxConcurrent <= 0 {
		return fmt.Errorf("%w: quota.default_max_concurrent must be positive", ErrInvalidConfig)
	}
	if c.Bulkhead.MaxInFlight <= 0 {
		return fmt.Errorf("%w: bulkhead.max_in_flight must be positive", ErrInvalidConfig)
	}
	if c.Resilience.FailureThreshold <= 0 {
		return fmt.Errorf("%w: resilience.failure_threshold must be positive", ErrInvalidConfig)
	}
	return nil
}

// applyEnvOverlay mutates cfg in place from INFERCORE_-prefixed env vars.
// Manual overlay, not a library, matching the teacher's plain os.Getenv style.
func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("INFERCORE_NODE_ID"); v != "" {
		cfg.Node.ID = v
	}
	if v := os.Getenv("INFERCORE_POOL_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxSize = n
		}
	}
	if v := os.Getenv("INFERCORE_SELECTION_STRATEGY"); v != "" {
		cfg.Selection.Strategy = v
	}
	if v := os.Getenv("INFERCORE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("INFERCORE_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

// Home returns the infercore data directory, honoring INFERCORE_HOME.
func Home() string {
	if env := os.Getenv("INFERCORE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".infercore")
}
