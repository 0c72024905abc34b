// Package config defines all configuration for the matching engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via CLOB_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Writer    WriterConfig    `mapstructure:"writer"`
}

// StoreConfig sets where the durable journal and projections live.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// BackupConfig controls the append-only text journals.
type BackupConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DataDir string `mapstructure:"data_dir"`
}

// BroadcastConfig controls the WebSocket event feed.
type BroadcastConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// WriterConfig tunes the queued durable writer.
//
//   - QueueSize: events buffered between the matching path and the storage
//     consumer; a full queue applies back-pressure.
//   - CounterBatch: how many order-id allocations pass between flushes of
//     the id high-water mark. Rebuild recomputes the true next id from the
//     journal, so the batched mark is only a collision upper bound.
type WriterConfig struct {
	QueueSize    int    `mapstructure:"queue_size"`
	CounterBatch uint64 `mapstructure:"counter_batch"`
}

// Load reads config from a YAML file with env var overrides (CLOB_ prefix,
// dots replaced by underscores: CLOB_STORE_DATA_DIR, CLOB_BROADCAST_PORT…).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CLOB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.data_dir", "data")
	v.SetDefault("backup.enabled", true)
	v.SetDefault("backup.data_dir", "backup")
	v.SetDefault("broadcast.enabled", true)
	v.SetDefault("broadcast.port", 8081)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("writer.queue_size", 4096)
	v.SetDefault("writer.counter_batch", 64)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Backup.Enabled && c.Backup.DataDir == "" {
		return fmt.Errorf("backup.data_dir is required when backup is enabled")
	}
	if c.Broadcast.Enabled && (c.Broadcast.Port <= 0 || c.Broadcast.Port > 65535) {
		return fmt.Errorf("broadcast.port must be a valid port, got %d", c.Broadcast.Port)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be a valid port, got %d", c.Metrics.Port)
	}
	if c.Writer.QueueSize <= 0 {
		return fmt.Errorf("writer.queue_size must be > 0")
	}
	if c.Writer.CounterBatch == 0 {
		return fmt.Errorf("writer.counter_batch must be > 0")
	}
	return nil
}
