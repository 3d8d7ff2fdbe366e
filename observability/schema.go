package observability

import "database/sql"

// Schema is the DDL for the pipeline's observability tables.
const Schema = `
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS document_events (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    file_id TEXT NOT NULL,
    user_id TEXT,
    filename TEXT,
    document_type TEXT,
    success INTEGER NOT NULL DEFAULT 1,
    duration_ms REAL,
    details TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_document_events_file ON document_events(file_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_document_events_type ON document_events(event_type, created_at DESC);
`

// Init applies the observability schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
