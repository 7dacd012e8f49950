// Package storage opens the configured ports.Store backend.
package storage

import (
	"fmt"

	"github.com/tjfontaine/a2a-lens/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/a2a-lens/internal/core/ports"
	"github.com/tjfontaine/a2a-lens/internal/pkg/config"
	"github.com/tjfontaine/a2a-lens/internal/storage/memory"
	"github.com/tjfontaine/a2a-lens/internal/storage/sqldb"
)

// Open returns the store described by cfg.
func Open(cfg config.StorageConfig) (ports.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.NewProvider(cfg.SQLite.Path)
	case "sqldb":
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("storage.database.dsn is required for sqldb storage")
		}
		return sqldb.New(sqldb.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
