// Package db owns the embedded DuckDB connection used for columnar sources.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Config holds database configuration. An empty DataDir keeps the database
// in memory.
type Config struct {
	DataDir string
	DBName  string
}

func (c Config) dsn() (string, error) {
	if c.DataDir == "" {
		return "", nil
	}
	dir := filepath.Join(c.DataDir, "duckdb")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create duckdb directory: %w", err)
	}
	name := c.DBName
	if name == "" {
		name = "mantle"
	}
	return filepath.Join(dir, name+".duckdb"), nil
}

// Open creates a new connection. Most callers want Get.
func Open(cfg Config) (*sql.DB, error) {
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}
	// Extensions might already be bundled or loaded; failures are not fatal.
	for _, ext := range []string{"parquet"} {
		_, _ = conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext))
	}
	return conn, nil
}

// Get returns the process-wide connection, opening it on first use. Only
// the first cfg takes effect.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Close closes the process-wide connection.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}
