// Package observability records pipeline metrics and per-document events
// in SQLite.
//
// Use a database separate from the registries and document store so metric
// writes never contend with them. Call Init on it first.
//
// Metric persistence is async: Record only appends to a buffer, and a
// background loop flushes in batches.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by the pipeline.
const (
	MetricStageDurationMs    = "stage_duration_ms"
	MetricPipelineDurationMs = "pipeline_duration_ms"
	MetricDocumentsProcessed = "documents_processed_count"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "milliseconds", "count"
}

// MetricsConfig tunes a MetricsManager.
type MetricsConfig struct {
	BufferSize    int           // default 100
	FlushInterval time.Duration // default 5s
	Logger        *slog.Logger  `json:"-" yaml:"-"`
}

func (c *MetricsConfig) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// MetricsManager buffers metrics and flushes them to SQLite in batches.
type MetricsManager struct {
	db     *sql.DB
	cfg    MetricsConfig
	logger *slog.Logger

	mu     sync.Mutex
	buffer []*Metric
	closed bool

	stop chan struct{}
	done chan struct{}
}

// NewMetricsManager starts a manager writing to db.
func NewMetricsManager(db *sql.DB, cfg MetricsConfig) *MetricsManager {
	cfg.defaults()
	mm := &MetricsManager{
		db:     db,
		cfg:    cfg,
		logger: cfg.Logger,
		buffer: make([]*Metric, 0, cfg.BufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go mm.flushLoop()
	return mm
}

// Record queues a metric. Non-blocking; dropped after Close.
func (mm *MetricsManager) Record(m *Metric) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.closed {
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	mm.buffer = append(mm.buffer, m)
	if len(mm.buffer) >= mm.cfg.BufferSize {
		mm.flushLocked()
	}
}

// ObserveStage records one stage's duration.
func (mm *MetricsManager) ObserveStage(stage string, durationMs float64, success bool) {
	mm.Record(&Metric{
		Name:   MetricStageDurationMs,
		Value:  durationMs,
		Unit:   "milliseconds",
		Labels: map[string]string{"stage": stage, "success": fmt.Sprint(success)},
	})
}

// ObserveRun records one pipeline run: its duration and a processed count.
func (mm *MetricsManager) ObserveRun(durationMs float64, success bool, documentType string) {
	labels := map[string]string{"success": fmt.Sprint(success)}
	if documentType != "" {
		labels["document_type"] = documentType
	}
	mm.Record(&Metric{Name: MetricPipelineDurationMs, Value: durationMs, Unit: "milliseconds", Labels: labels})
	mm.Record(&Metric{Name: MetricDocumentsProcessed, Value: 1, Unit: "count", Labels: labels})
}

// Query retrieves metrics filtered by name, time range and limit, newest
// first. Empty metricName means all; nil times are unbounded.
func (mm *MetricsManager) Query(ctx context.Context, metricName string, startTime, endTime *time.Time, limit int) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE 1=1"
	args := make([]any, 0, 4)

	if metricName != "" {
		q += " AND metric_name = ?"
		args = append(args, metricName)
	}
	if startTime != nil {
		q += " AND timestamp >= ?"
		args = append(args, startTime.Unix())
	}
	if endTime != nil {
		q += " AND timestamp <= ?"
		args = append(args, endTime.Unix())
	}
	q += " ORDER BY timestamp DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var name string
		var unit, labelsJSON sql.NullString
		var ts int64
		var value float64

		if err := rows.Scan(&name, &ts, &value, &labelsJSON, &unit); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m := &Metric{Name: name, Timestamp: time.Unix(ts, 0), Value: value, Unit: unit.String}
		if labelsJSON.Valid {
			var labels map[string]string
			if json.Unmarshal([]byte(labelsJSON.String), &labels) == nil {
				m.Labels = labels
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Cleanup deletes metrics older than retentionDays and returns the count removed.
func (mm *MetricsManager) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := mm.db.ExecContext(ctx, "DELETE FROM metrics_timeseries WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup metrics: %w", err)
	}
	return result.RowsAffected()
}

// Close flushes remaining metrics and stops the background loop. Safe to
// call more than once.
func (mm *MetricsManager) Close() error {
	mm.mu.Lock()
	if mm.closed {
		mm.mu.Unlock()
		return nil
	}
	mm.closed = true
	mm.mu.Unlock()
	close(mm.stop)
	<-mm.done
	return nil
}

func (mm *MetricsManager) flushLoop() {
	defer close(mm.done)
	ticker := time.NewTicker(mm.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-mm.stop:
			mm.mu.Lock()
			mm.flushLocked()
			mm.mu.Unlock()
			return
		case <-ticker.C:
			mm.mu.Lock()
			mm.flushLocked()
			mm.mu.Unlock()
		}
	}
}

func (mm *MetricsManager) flushLocked() {
	if len(mm.buffer) == 0 {
		return
	}
	defer func() { mm.buffer = mm.buffer[:0] }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		mm.logger.Error("observability: metrics begin tx", "error", err, "dropped", len(mm.buffer))
		return
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_timeseries (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		mm.logger.Error("observability: metrics prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range mm.buffer {
		var labelsJSON sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labelsJSON = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.Unix(), m.Value, labelsJSON, m.Unit); err != nil {
			mm.logger.Error("observability: metrics insert", "error", err, "metric", m.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		mm.logger.Error("observability: metrics commit", "error", err)
	}
}
