package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// maxAttempts bounds RunTx and Exec; backoff grows 100ms per attempt.
const maxAttempts = 3

// IsBusy reports whether err is SQLITE_BUSY or a locked database or table.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn in a transaction, committing when fn returns nil. A busy
// database is retried with backoff; any other error rolls back and returns.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := retryBusy(ctx, "RunTx", func() (struct{}, error) {
		return struct{}{}, runOnce(ctx, db, fn)
	})
	return err
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec runs one statement, retrying while the database is busy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return retryBusy(ctx, "Exec", func() (sql.Result, error) {
		return db.ExecContext(ctx, query, args...)
	})
}

func retryBusy[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !IsBusy(err) || attempt == maxAttempts {
			return zero, err
		}
		t := time.NewTimer(time.Duration(100*attempt) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, fmt.Errorf("dbopen: %s: cancelled during retry: %w", op, ctx.Err())
		case <-t.C:
		}
	}
}
