package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/docpipeline/dbopen"
	"github.com/hazyhaar/docpipeline/horosafe"
)

// SQLite is a Store persisted in one table of an SQLite database, so
// duplicates are detected across process restarts.
type SQLite struct {
	db    *sql.DB
	table string
	owned bool
}

// OpenSQLite opens (creating if needed) the database at path and returns a
// registry backed by table. Close releases the database.
func OpenSQLite(path, table string) (*SQLite, error) {
	if err := horosafe.ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("dedup: table: %w", err)
	}
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema(table)))
	if err != nil {
		return nil, fmt.Errorf("dedup: %w", err)
	}
	return &SQLite{db: db, table: table, owned: true}, nil
}

// NewSQLite returns a registry on an already opened database, creating table
// if needed. The caller keeps ownership of db.
func NewSQLite(db *sql.DB, table string) (*SQLite, error) {
	if err := horosafe.ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("dedup: table: %w", err)
	}
	if _, err := db.Exec(schema(table)); err != nil {
		return nil, fmt.Errorf("dedup: create %s: %w", table, err)
	}
	return &SQLite{db: db, table: table}, nil
}

func schema(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
	key        TEXT PRIMARY KEY,
	file_id    TEXT NOT NULL,
	created_at INTEGER NOT NULL DEFAULT (unixepoch())
)`, table)
}

func (s *SQLite) Check(ctx context.Context, key string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT file_id FROM %q WHERE key = ?`, s.table), key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("dedup: check: %w", err)
	}
	return id, true, nil
}

func (s *SQLite) Register(ctx context.Context, key, id string) error {
	_, err := dbopen.Exec(ctx, s.db,
		fmt.Sprintf(`INSERT INTO %q (key, file_id) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, s.table),
		key, id)
	if err != nil {
		return fmt.Errorf("dedup: register: %w", err)
	}
	return nil
}

func (s *SQLite) CheckOrRegister(ctx context.Context, key, id string) (string, bool, error) {
	var (
		stored   string
		inserted bool
	)
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %q (key, file_id) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, s.table),
			key, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted = n == 1; inserted {
			return nil
		}
		return tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT file_id FROM %q WHERE key = ?`, s.table), key).Scan(&stored)
	})
	if err != nil {
		return "", false, fmt.Errorf("dedup: check or register: %w", err)
	}
	if inserted {
		return "", false, nil
	}
	return stored, true, nil
}

// Close closes the database if it was opened by OpenSQLite.
func (s *SQLite) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
