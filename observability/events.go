package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docpipeline/idgen"
)

// Event types written by the pipeline.
const (
	EventDocumentProcessed = "document.processed"
	EventDocumentRejected  = "document.rejected"
)

// DocumentEvent is one per-document outcome.
type DocumentEvent struct {
	EventType    string
	FileID       string
	UserID       string
	Filename     string
	DocumentType string
	Success      bool
	DurationMs   float64
	Details      map[string]any
}

// EventLogger writes document events. Failures are logged, never returned
// to the pipeline.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the event id generator.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLogger sets the slog logger for write failures.
func WithEventLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger returns a logger writing to db.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.UUIDv7()),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records ev.
func (l *EventLogger) Log(ctx context.Context, ev DocumentEvent) {
	var details sql.NullString
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO document_events (
			event_id, event_type, file_id, user_id, filename, document_type,
			success, duration_ms, details, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), ev.EventType, ev.FileID, ev.UserID, ev.Filename, ev.DocumentType,
		ev.Success, ev.DurationMs, details, time.Now().Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.EventType, "file_id", ev.FileID)
	}
}

// Events returns the events recorded for fileID, newest first.
func (l *EventLogger) Events(ctx context.Context, fileID string) ([]DocumentEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, file_id, user_id, filename, document_type, success, duration_ms, details
		FROM document_events WHERE file_id = ? ORDER BY created_at DESC, rowid DESC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []DocumentEvent
	for rows.Next() {
		var ev DocumentEvent
		var user, filename, docType, details sql.NullString
		var dur sql.NullFloat64
		if err := rows.Scan(&ev.EventType, &ev.FileID, &user, &filename, &docType, &ev.Success, &dur, &details); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.UserID, ev.Filename, ev.DocumentType, ev.DurationMs = user.String, filename.String, docType.String, dur.Float64
		if details.Valid {
			_ = json.Unmarshal([]byte(details.String), &ev.Details)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events older than retentionDays.
func (l *EventLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	res, err := l.db.ExecContext(ctx, "DELETE FROM document_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	return res.RowsAffected()
}
