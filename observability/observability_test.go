package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/docpipeline/dbopen"
	"github.com/hazyhaar/docpipeline/idgen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInit_CreatesTables(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"metrics_timeseries", "document_events"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{FlushInterval: time.Hour})

	mm.ObserveStage("EXTRACT", 12.5, true)
	mm.ObserveStage("NORMALIZE", 3, false)
	mm.ObserveRun(20, true, "invoice")
	mm.Close()

	ctx := context.Background()
	stages, err := mm.Query(ctx, MetricStageDurationMs, nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 2 {
		t.Fatalf("stage metrics: got %d, want 2", len(stages))
	}
	seen := map[string]bool{}
	for _, m := range stages {
		seen[m.Labels["stage"]] = true
		if m.Unit != "milliseconds" {
			t.Errorf("unit = %q", m.Unit)
		}
	}
	if !seen["EXTRACT"] || !seen["NORMALIZE"] {
		t.Errorf("stage labels = %v", seen)
	}

	count, err := mm.Query(ctx, MetricDocumentsProcessed, nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(count) != 1 || count[0].Value != 1 || count[0].Labels["document_type"] != "invoice" {
		t.Errorf("processed count = %+v", count)
	}

	all, err := mm.Query(ctx, "", nil, nil, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("limit: got %d rows, want 2", len(all))
	}
}

func TestMetricsManager_FlushOnBufferFull(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{BufferSize: 2, FlushInterval: time.Hour})
	defer mm.Close()

	mm.ObserveStage("INGEST", 1, true)
	mm.ObserveStage("EXTRACT", 2, true)

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rows after full buffer = %d, want 2", n)
	}
}

func TestMetricsManager_CloseTwiceAndRecordAfter(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{FlushInterval: time.Hour})
	mm.Close()
	mm.Close()
	mm.ObserveRun(1, true, "")
	got, err := mm.Query(context.Background(), "", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("metrics recorded after close: %d", len(got))
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{FlushInterval: time.Hour})
	mm.Record(&Metric{Name: "old", Timestamp: time.Now().AddDate(0, 0, -40), Value: 1})
	mm.Record(&Metric{Name: "new", Value: 1})
	mm.Close()

	n, err := mm.Cleanup(context.Background(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleaned %d rows, want 1", n)
	}
}

func TestEventLogger(t *testing.T) {
	db := setupObsDB(t)
	ctx := context.Background()
	l := NewEventLogger(db, WithEventIDGenerator(idgen.Sequence("evt_")))

	l.Log(ctx, DocumentEvent{
		EventType:    EventDocumentProcessed,
		FileID:       "doc_1",
		UserID:       "alice",
		Filename:     "invoice.txt",
		DocumentType: "invoice",
		Success:      true,
		DurationMs:   42,
		Details:      map[string]any{"category": "financial"},
	})
	l.Log(ctx, DocumentEvent{EventType: EventDocumentRejected, FileID: "doc_2"})

	got, err := l.Events(ctx, "doc_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("events: got %d, want 1", len(got))
	}
	ev := got[0]
	if ev.EventType != EventDocumentProcessed || ev.UserID != "alice" || !ev.Success || ev.DurationMs != 42 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Details["category"] != "financial" {
		t.Errorf("details = %v", ev.Details)
	}

	rejected, err := l.Events(ctx, "doc_2")
	if err != nil {
		t.Fatal(err)
	}
	if len(rejected) != 1 || rejected[0].Success {
		t.Errorf("rejected = %+v", rejected)
	}
}
