package storage

import (
	"path/filepath"
	"testing"

	"github.com/tjfontaine/a2a-lens/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/a2a-lens/internal/pkg/config"
	"github.com/tjfontaine/a2a-lens/internal/storage/memory"
	"github.com/tjfontaine/a2a-lens/internal/storage/sqldb"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		cfg     config.StorageConfig
		check   func(any) bool
		wantErr bool
	}{
		{
			name:  "default is memory",
			cfg:   config.StorageConfig{},
			check: func(s any) bool { _, ok := s.(*memory.Store); return ok },
		},
		{
			name:  "sqlite file",
			cfg:   config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "data", "lens.db")}},
			check: func(s any) bool { _, ok := s.(*sqlite.Provider); return ok },
		},
		{
			name: "sqldb",
			cfg: config.StorageConfig{Type: "sqldb", Database: config.DatabaseConfig{
				Driver: "sqlite", DSN: "file:storage_open?mode=memory&cache=shared",
			}},
			check: func(s any) bool { _, ok := s.(*sqldb.Store); return ok },
		},
		{name: "sqldb without dsn", cfg: config.StorageConfig{Type: "sqldb"}, wantErr: true},
		{name: "unknown", cfg: config.StorageConfig{Type: "cassandra"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Open() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer store.Close()
			if !tt.check(store) {
				t.Errorf("Open() returned %T", store)
			}
		})
	}
}
