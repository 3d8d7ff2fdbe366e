// Package dbopen opens the SQLite databases behind the pipeline's hash and
// signature registries, document store and metrics.
//
// Pragmas travel in the DSN so every pooled connection gets them, not just
// the first:
//
//	foreign_keys(1) journal_mode(WAL) busy_timeout(10000) synchronous(NORMAL)
//
// Transactions begin IMMEDIATE: a check-then-insert inside RunTx holds the
// write lock from its first statement, which is what keeps CheckOrRegister
// atomic across processes sharing one registry file.
//
// Usage:
//
//	db, err := dbopen.Open("registry.db", dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Memory is the path of a private in-memory database.
const Memory = ":memory:"

type config struct {
	busyTimeout int
	foreignKeys bool
	mkdirAll    bool
	schemas     []string
}

// Option customises Open behaviour.
type Option func(*config)

// WithBusyTimeout sets busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithoutForeignKeys leaves foreign key enforcement off.
func WithoutForeignKeys() Option { return func(c *config) { c.foreignKeys = false } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues DDL to execute once the database is open.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// DSN returns the modernc.org/sqlite data source name Open uses for path.
func DSN(path string, opts ...Option) string {
	cfg := newConfig(opts)
	return cfg.dsn(path)
}

func newConfig(opts []Option) config {
	cfg := config{busyTimeout: 10_000, foreignKeys: true}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

func (c config) dsn(path string) string {
	fk := 1
	if !c.foreignKeys {
		fk = 0
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("foreign_keys(%d)", fk))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.busyTimeout))
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Open opens the SQLite database at path, then applies the queued schemas.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := newConfig(opts)

	if cfg.mkdirAll && path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if path == Memory {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}
	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests and closes it on cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(Memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
