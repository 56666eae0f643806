package index

import (
	"fmt"
)

// Driver names accepted by the configuration.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and parametrizes the index driver.
type Config struct {
	// Driver is "postgres" or "sqlite".
	Driver string

	// DSN is the driver connection string: a lib/pq DSN for postgres, a
	// file path or ":memory:" for sqlite.
	DSN string

	// CacheSize is the capacity of the read-through record cache. Zero
	// disables caching.
	CacheSize int
}

// Opener builds an unopened Index from a driver config. Drivers register
// themselves here to keep the parent package free of driver imports.
type Opener func(dsn string) Index

var openers = map[string]Opener{}

// RegisterDriver makes a driver available to Open. Called from driver package
// init functions.
func RegisterDriver(name string, opener Opener) {
	openers[name] = opener
}

// Open builds the configured index, wrapped in a record cache when enabled.
// The returned index still needs Open(ctx) called on it.
func Open(cfg Config) (Index, error) {
	opener, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported index driver %q", cfg.Driver)
	}
	idx := opener(cfg.DSN)
	if cfg.CacheSize > 0 {
		cached, err := NewCached(idx, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		return cached, nil
	}
	return idx, nil
}
