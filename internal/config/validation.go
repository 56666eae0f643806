package config

import (
	"fmt"
)

var (
	validIndexDrivers     = map[string]bool{"postgres": true, "sqlite": true}
	validJournalBackends  = map[string]bool{"pebble": true, "leveldb": true}
	validCompressionNames = map[string]bool{"": true, "none": true, "lz4": true}
	validLogLevels        = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks the configuration for values the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger.endpoint is required")
	}
	if cfg.Ledger.Namespace == "" {
		return fmt.Errorf("ledger.namespace is required")
	}

	if !validIndexDrivers[cfg.Index.Driver] {
		return fmt.Errorf("index.driver must be postgres or sqlite, got %q", cfg.Index.Driver)
	}
	if cfg.Index.DSN == "" {
		return fmt.Errorf("index.dsn is required")
	}
	if cfg.Index.CacheSize < 0 {
		return fmt.Errorf("index.cache_size must not be negative")
	}

	if !validJournalBackends[cfg.Journal.Backend] {
		return fmt.Errorf("journal.backend must be pebble or leveldb, got %q", cfg.Journal.Backend)
	}
	if cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is required")
	}
	if !validCompressionNames[cfg.Journal.Compression] {
		return fmt.Errorf("journal.compression must be none or lz4, got %q", cfg.Journal.Compression)
	}

	if cfg.Saga.PollMaxAttempts <= 0 {
		return fmt.Errorf("saga.poll_max_attempts must be positive")
	}
	if cfg.Saga.PollBaseDelay <= 0 {
		return fmt.Errorf("saga.poll_base_delay must be positive")
	}
	if cfg.Saga.WritebackMaxAttempts <= 0 {
		return fmt.Errorf("saga.writeback_max_attempts must be positive")
	}

	if cfg.Sweep.Enabled {
		if cfg.Sweep.DegradedInterval <= 0 || cfg.Sweep.WritebackInterval <= 0 {
			return fmt.Errorf("sweep intervals must be positive when the sweep is enabled")
		}
		if cfg.Sweep.BatchSize <= 0 {
			return fmt.Errorf("sweep.batch_size must be positive")
		}
	}

	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of trace, debug, info, warn, error; got %q", cfg.Log.Level)
	}
	return nil
}
