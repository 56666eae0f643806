// Package config holds the daemon configuration and its loading rules.
package config

import (
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Index   IndexConfig   `mapstructure:"index"`
	Journal JournalConfig `mapstructure:"journal"`
	Saga    SagaConfig    `mapstructure:"saga"`
	Sweep   SweepConfig   `mapstructure:"sweep"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`

	configPath string
}

// LedgerConfig points at the ledger node.
type LedgerConfig struct {
	// Endpoint is the node's JSON-RPC URL.
	Endpoint string `mapstructure:"endpoint"`

	// RequestTimeout bounds one HTTP round trip to the node.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Namespace is the on-chain package namespace used for identifier
	// resolution, e.g. "marketplace".
	Namespace string `mapstructure:"namespace"`
}

// IndexConfig selects the off-chain index store.
type IndexConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`

	// DSN is the driver connection string: a postgres DSN, or a file path /
	// ":memory:" for sqlite.
	DSN string `mapstructure:"dsn"`

	// CacheSize is the record cache capacity. Zero disables caching.
	CacheSize int `mapstructure:"cache_size"`
}

// JournalConfig selects the saga journal store.
type JournalConfig struct {
	// Backend is "pebble" or "leveldb".
	Backend string `mapstructure:"backend"`

	// Path is the journal database directory.
	Path string `mapstructure:"path"`

	// Compression is "none" or "lz4".
	Compression string `mapstructure:"compression"`
}

// SagaConfig tunes the confirmation poll and write-back retries.
type SagaConfig struct {
	PollMaxAttempts      int           `mapstructure:"poll_max_attempts"`
	PollBaseDelay        time.Duration `mapstructure:"poll_base_delay"`
	WritebackMaxAttempts int           `mapstructure:"writeback_max_attempts"`
	WritebackDelay       time.Duration `mapstructure:"writeback_delay"`
}

// SweepConfig tunes the background reconciliation loops.
type SweepConfig struct {
	// Enabled turns the sweep on. Disable it when running several daemons
	// against one index with a dedicated repair instance.
	Enabled bool `mapstructure:"enabled"`

	DegradedInterval  time.Duration `mapstructure:"degraded_interval"`
	WritebackInterval time.Duration `mapstructure:"writeback_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	PendingGrace      time.Duration `mapstructure:"pending_grace"`
}

// ServerConfig tunes the RPC and WebSocket listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:7040".
	Addr string `mapstructure:"addr"`

	// RequestTimeout bounds one RPC invocation. Saga starts can take the
	// whole confirmation window, so this defaults well above it.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool `mapstructure:"pretty"`
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.configPath
}
