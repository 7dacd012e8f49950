// Package sqlite provides the file-backed SQLite store.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tjfontaine/a2a-lens/internal/core/ports"
	"github.com/tjfontaine/a2a-lens/internal/storage/sqldb"
)

// Provider is a sqldb.Store bound to a SQLite database file.
type Provider struct {
	*sqldb.Store
	path string
}

var _ ports.Store = (*Provider)(nil)

// NewProvider opens (creating if needed) the SQLite database at path.
// ":memory:" opens a private in-memory database.
func NewProvider(path string) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)"
	}

	store, err := sqldb.NewSQLite(dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &Provider{Store: store, path: path}, nil
}

// Path returns the database file path.
func (p *Provider) Path() string {
	return p.path
}
