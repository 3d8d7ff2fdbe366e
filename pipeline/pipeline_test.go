package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/docpipeline/connectivity"
	"github.com/hazyhaar/docpipeline/dbopen"
	"github.com/hazyhaar/docpipeline/docstore"
	"github.com/hazyhaar/docpipeline/idgen"
	"github.com/hazyhaar/docpipeline/kit"
	"github.com/hazyhaar/docpipeline/metadata"
	"github.com/hazyhaar/docpipeline/normalize"
	"github.com/hazyhaar/docpipeline/observability"
	"github.com/hazyhaar/docpipeline/trigger"
)

const invoiceText = "Invoice #123, Total Due: $500.00, Date: 01/15/2024"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := *DefaultConfig()
	cfg.Ingest.TempDir = t.TempDir()
	return cfg
}

func newTestPipeline(t *testing.T, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	p, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func stageNames(rec *Record) []string {
	out := make([]string, len(rec.Stages))
	for i, s := range rec.Stages {
		out[i] = s.Stage
	}
	return out
}

func firedNames(rec *Record) []string {
	out := make([]string, len(rec.Triggers))
	for i, f := range rec.Triggers {
		out[i] = f.Trigger
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	p := newTestPipeline(t, testConfig(t))
	rec := p.Run(context.Background(), []byte(invoiceText), "invoice.txt", RunOptions{UserID: "alice", Department: "finance"})

	if !rec.Success {
		t.Fatalf("Success = false, errors = %v", rec.Errors)
	}
	want := []string{StageIngest, StageExtract, StageNormalize, StageMetadata, StageStorage, StageTrigger}
	if got := stageNames(rec); !slices.Equal(got, want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	if rec.PipelineVersion != metadata.PipelineVersion {
		t.Errorf("pipeline_version = %q", rec.PipelineVersion)
	}
	if !strings.HasPrefix(rec.FileID, "doc_") || rec.FileID != rec.Ingest.FileID {
		t.Errorf("file_id = %q, ingest file_id = %q", rec.FileID, rec.Ingest.FileID)
	}
	if got := rec.Metadata.DocumentType; got != "invoice" {
		t.Errorf("document_type = %q, want invoice", got)
	}
	if got := rec.Metadata.Category; got != "financial" {
		t.Errorf("category = %q, want financial", got)
	}
	if got := rec.Normalize.Dates; !slices.Equal(got, []string{"2024-01-15"}) {
		t.Errorf("dates = %v, want [2024-01-15]", got)
	}
	if len(rec.Normalize.MonetaryValues) == 0 || rec.Normalize.MonetaryValues[0].Amount != 500.0 {
		t.Errorf("monetary_values = %+v, want first amount 500", rec.Normalize.MonetaryValues)
	}
	if rec.Metadata.OwnerID != "alice" || rec.Metadata.UploadedBy != "alice" || rec.Metadata.Department != "finance" {
		t.Errorf("ownership = %q/%q/%q", rec.Metadata.OwnerID, rec.Metadata.UploadedBy, rec.Metadata.Department)
	}
	for _, stage := range []string{StageIngest, StageExtract, StageNormalize} {
		if _, ok := rec.Metadata.Lineage.StageTimings[stage]; !ok {
			t.Errorf("lineage timings missing %s: %v", stage, rec.Metadata.Lineage.StageTimings)
		}
	}
	if rec.Storage == nil || rec.Storage.Backend != "stub" || !rec.Storage.Stored {
		t.Errorf("storage = %+v, want stub ack", rec.Storage)
	}
	if got, want := firedNames(rec), []string{"update_financial_forecast", "accounts_payable_api"}; !slices.Equal(got, want) {
		t.Errorf("triggers = %v, want %v", got, want)
	}
	if rec.TotalDurationMs <= 0 {
		t.Errorf("total_duration_ms = %v", rec.TotalDurationMs)
	}

	s := rec.Summary()
	if s.DocumentType != "invoice" || s.Language == "" || s.WordCount == 0 || s.PageCount != 1 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.StageTimings) != 6 || s.EntitiesCount == 0 {
		t.Errorf("summary timings=%v entities=%d", s.StageTimings, s.EntitiesCount)
	}
}

func TestRun_IngestFailure(t *testing.T) {
	p := newTestPipeline(t, testConfig(t))
	rec := p.Run(context.Background(), nil, "empty.txt", RunOptions{})

	if rec.Success {
		t.Fatal("Success = true for empty upload")
	}
	if got := stageNames(rec); !slices.Equal(got, []string{StageIngest}) {
		t.Fatalf("stages = %v, want only INGEST", got)
	}
	if rec.Extract != nil || rec.Metadata != nil || rec.Storage != nil {
		t.Error("later stages populated after ingest failure")
	}
	if len(rec.Errors) == 0 {
		t.Error("no errors reported")
	}
	if s := rec.Summary(); s.DocumentType != "unknown" || s.Language != "unknown" {
		t.Errorf("summary of failed run = %+v", s)
	}
}

func TestRun_Duplicate(t *testing.T) {
	p := newTestPipeline(t, testConfig(t))
	ctx := context.Background()
	first := p.Run(ctx, []byte(invoiceText), "a.txt", RunOptions{})
	second := p.Run(ctx, []byte(invoiceText), "b.txt", RunOptions{})

	if !second.Ingest.IsDuplicate || second.Ingest.DuplicateOf != first.FileID {
		t.Errorf("ingest duplicate = %v of %q, want of %q", second.Ingest.IsDuplicate, second.Ingest.DuplicateOf, first.FileID)
	}
	if first.Normalize.NearDuplicateScore != 0 || second.Normalize.NearDuplicateScore != 1 {
		t.Errorf("near-duplicate scores = %v, %v, want 0, 1",
			first.Normalize.NearDuplicateScore, second.Normalize.NearDuplicateScore)
	}
	if !slices.Contains(second.Metadata.Flags, metadata.FlagNearDuplicate) {
		t.Errorf("flags = %v, want near_duplicate", second.Metadata.Flags)
	}
	if !second.Success {
		t.Errorf("duplicate run failed: %v", second.Errors)
	}
}

func TestRun_ExtractFailure(t *testing.T) {
	tests := []struct {
		name        string
		stopOnError bool
		wantStages  int
	}{
		{"stop", true, 2},
		{"continue", false, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, testConfig(t))
			rec := p.Run(context.Background(), []byte("%PDF-1.4\ngarbage"), "bad.pdf", RunOptions{StopOnError: tt.stopOnError})
			if rec.Success {
				t.Error("Success = true with a failed extract")
			}
			if len(rec.Stages) != tt.wantStages {
				t.Fatalf("stages = %v, want %d", stageNames(rec), tt.wantStages)
			}
			if rec.Extract == nil || rec.Extract.Success {
				t.Errorf("extract = %+v", rec.Extract)
			}
			if !tt.stopOnError {
				if rec.Metadata == nil || rec.Normalize == nil {
					t.Fatal("later stages missing")
				}
				if rec.Metadata.ExtractionConfidence != 0 || !slices.Contains(rec.Metadata.Flags, metadata.FlagLowConfidence) {
					t.Errorf("metadata on empty extract = %+v", rec.Metadata)
				}
			}
		})
	}
}

func TestRun_StorePersistsChunks(t *testing.T) {
	store, err := docstore.NewSQLite(dbopen.OpenMemory(t), "")
	if err != nil {
		t.Fatal(err)
	}
	p := newTestPipeline(t, testConfig(t), WithStore(store))
	rec := p.Run(context.Background(), []byte(invoiceText), "invoice.txt", RunOptions{})

	if rec.Storage.Backend != "sqlite" || rec.Storage.ChunkCount != len(rec.Extract.Chunks) {
		t.Fatalf("storage = %+v", rec.Storage)
	}
	chunks, err := store.Chunks(context.Background(), rec.FileID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != len(rec.Extract.Chunks) || chunks[0].ID != idgen.ChunkID(rec.FileID, 0) {
		t.Fatalf("stored chunks = %+v", chunks)
	}
	if chunks[0].Metadata["document_type"] != "invoice" {
		t.Errorf("chunk metadata = %v", chunks[0].Metadata)
	}
}

func TestRun_StoreFailureFallsBackToStub(t *testing.T) {
	failing := docstore.StoreFunc{Backend: "flaky", Fn: func(context.Context, docstore.Document) (docstore.Ack, error) {
		return docstore.Ack{}, errors.New("connection refused")
	}}
	p := newTestPipeline(t, testConfig(t), WithStore(failing))
	rec := p.Run(context.Background(), []byte(invoiceText), "invoice.txt", RunOptions{})

	sr, _ := rec.Stage(StageStorage)
	if !sr.Success {
		t.Errorf("storage stage failed: %+v", sr)
	}
	if rec.Storage.Backend != "stub" || !strings.Contains(rec.Storage.Note, "connection refused") {
		t.Errorf("storage = %+v, want stub fallback", rec.Storage)
	}
	if !slices.ContainsFunc(rec.Warnings, func(w string) bool { return strings.Contains(w, "flaky") }) {
		t.Errorf("warnings = %v, want store fallback warning", rec.Warnings)
	}
	if !rec.Success {
		t.Errorf("run failed: %v", rec.Errors)
	}
}

func TestRun_TriggerIsolation(t *testing.T) {
	reg := trigger.NewRegistry(quietLogger())
	reg.Register("explodes", func(context.Context, trigger.Subject) (any, error) { panic("boom") })
	var seen atomic.Value
	reg.Register("records", func(_ context.Context, s trigger.Subject) (any, error) {
		seen.Store(s)
		return "ok", nil
	})
	p := newTestPipeline(t, testConfig(t), WithTriggers(reg))
	rec := p.Run(context.Background(), []byte(invoiceText), "invoice.txt", RunOptions{})

	if !rec.Success {
		t.Fatalf("run failed: %v", rec.Errors)
	}
	if rec.Triggers[0].Success || !strings.Contains(rec.Triggers[0].Error, "boom") {
		t.Errorf("panicking trigger = %+v", rec.Triggers[0])
	}
	if !rec.Triggers[1].Success || rec.Triggers[1].Result != "ok" {
		t.Errorf("sibling trigger = %+v", rec.Triggers[1])
	}
	s, ok := seen.Load().(trigger.Subject)
	if !ok {
		t.Fatal("trigger did not receive a subject")
	}
	if s.FileID != rec.FileID || s.DocumentType != "invoice" || s.Category != "financial" {
		t.Errorf("subject = %+v", s)
	}
	if sum, ok := s.Record.(Summary); !ok || len(sum.StageTimings) != 5 {
		t.Errorf("subject record = %#v, want summary of the five earlier stages", s.Record)
	}
}

func TestRun_StagePanic(t *testing.T) {
	ner := normalize.NERFunc(func(context.Context, string) ([]normalize.NamedEntity, error) {
		panic("ner exploded")
	})
	p := newTestPipeline(t, testConfig(t), WithNER(ner))
	rec := p.Run(context.Background(), []byte(invoiceText), "invoice.txt", RunOptions{})

	sr, ok := rec.Stage(StageNormalize)
	if !ok || sr.Success || !strings.Contains(strings.Join(sr.Errors, ";"), "ner exploded") {
		t.Fatalf("normalize stage = %+v", sr)
	}
	if rec.Normalize != nil {
		t.Error("crashed stage kept a record")
	}
	if rec.Metadata == nil || rec.Metadata.DocumentType != "invoice" {
		t.Errorf("metadata after normalize crash = %+v", rec.Metadata)
	}
	if len(rec.Stages) != 6 || rec.Success {
		t.Errorf("stages = %v success = %v", stageNames(rec), rec.Success)
	}
}

func TestRun_StageTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	ner := normalize.NERFunc(func(context.Context, string) ([]normalize.NamedEntity, error) {
		<-release
		return nil, nil
	})
	cfg := testConfig(t)
	cfg.Pipeline.StageTimeout = 250 * time.Millisecond
	p := newTestPipeline(t, cfg, WithNER(ner))
	rec := p.Run(context.Background(), []byte(invoiceText), "invoice.txt", RunOptions{})

	sr, _ := rec.Stage(StageNormalize)
	if sr.Success || !strings.Contains(strings.Join(sr.Errors, ";"), "timed out") {
		t.Fatalf("normalize stage = %+v, want timeout", sr)
	}
	if rec.Metadata == nil {
		t.Error("metadata did not run after a timed-out stage")
	}
}

func TestRun_UserFromContext(t *testing.T) {
	p := newTestPipeline(t, testConfig(t))
	ctx := kit.WithUserID(context.Background(), "usr_ctx")
	rec := p.Run(ctx, []byte(invoiceText), "invoice.txt", RunOptions{})
	if rec.Metadata.OwnerID != "usr_ctx" {
		t.Errorf("owner = %q, want usr_ctx", rec.Metadata.OwnerID)
	}
}

func TestRun_MetricsAndEvents(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	mm := observability.NewMetricsManager(db, observability.MetricsConfig{FlushInterval: time.Hour, Logger: quietLogger()})
	events := observability.NewEventLogger(db)
	p := newTestPipeline(t, testConfig(t), WithMetrics(mm), WithEvents(events))

	ctx := context.Background()
	rec := p.Run(ctx, []byte(invoiceText), "invoice.txt", RunOptions{UserID: "alice"})
	mm.Close()

	stages, err := mm.Query(ctx, observability.MetricStageDurationMs, nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 6 {
		t.Errorf("stage metrics = %d, want 6", len(stages))
	}
	runs, err := mm.Query(ctx, observability.MetricDocumentsProcessed, nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Labels["document_type"] != "invoice" {
		t.Errorf("processed metrics = %+v", runs)
	}

	evs, err := events.Events(ctx, rec.FileID)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].EventType != observability.EventDocumentProcessed || evs[0].UserID != "alice" {
		t.Errorf("events = %+v", evs)
	}
}

func TestRun_WebhookReceivesOneEvent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Ce-Type") == trigger.EventType {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Triggers.Webhooks = []trigger.WebhookConfig{{Name: "downstream", URL: srv.URL, AllowPrivate: true}}
	p := newTestPipeline(t, cfg)
	rec := p.Run(context.Background(), []byte(invoiceText), "invoice.txt", RunOptions{})

	if hits.Load() != 1 {
		t.Errorf("webhook received %d events, want 1", hits.Load())
	}
	if rec.Triggers[0].Trigger != "downstream" || !rec.Triggers[0].Success {
		t.Errorf("webhook trigger = %+v", rec.Triggers[0])
	}
}

func TestNew_SQLiteBackends(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Dedup = DedupConfig{Backend: "sqlite", DBPath: filepath.Join(dir, "registry.db")}
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.DBPath = filepath.Join(dir, "store", "docs.db")
	cfg.Metrics.DBPath = filepath.Join(dir, "metrics.db")

	ctx := context.Background()
	p, err := New(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	first := p.Run(ctx, []byte(invoiceText), "invoice.txt", RunOptions{})
	if !first.Success || first.Storage.Backend != "sqlite" {
		t.Fatalf("first run: success=%v storage=%+v errors=%v", first.Success, first.Storage, first.Errors)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	// Registries survive a restart.
	p2, err := New(cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	defer p2.Close()
	second := p2.Run(ctx, []byte(invoiceText), "again.txt", RunOptions{})
	if second.Ingest.DuplicateOf != first.FileID || second.Normalize.NearDuplicateOf != first.FileID {
		t.Errorf("after restart duplicate_of = %q, near_duplicate_of = %q, want %q",
			second.Ingest.DuplicateOf, second.Normalize.NearDuplicateOf, first.FileID)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "chroma"
	if _, err := New(cfg); err == nil {
		t.Error("New accepted an unknown storage backend")
	}
}

func TestRun_IDGenerator(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), WithIDGenerator(idgen.Sequence("file_")))
	rec := p.Run(context.Background(), []byte(invoiceText), "invoice.txt", RunOptions{})
	if rec.FileID != "file_1" {
		t.Errorf("file_id = %q, want file_1", rec.FileID)
	}
}

func TestGuardedTrigger_TripsBreaker(t *testing.T) {
	var calls atomic.Int32
	failing := func(context.Context, trigger.Subject) (any, error) {
		calls.Add(1)
		return nil, errors.New("502 bad gateway")
	}
	guard := connectivity.NewGuard("webhook:erp",
		connectivity.WithGuardTimeout(0),
		connectivity.WithGuardBreaker(connectivity.NewCircuitBreaker(connectivity.WithBreakerThreshold(1))))
	fn := guardedTrigger(guard, failing)

	ctx := context.Background()
	if _, err := fn(ctx, trigger.Subject{}); err == nil {
		t.Fatal("first call succeeded")
	}
	_, err := fn(ctx, trigger.Subject{})
	var open *connectivity.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("second call err = %v, want circuit open", err)
	}
	if calls.Load() != 1 {
		t.Errorf("endpoint called %d times, want 1", calls.Load())
	}

	ok := guardedTrigger(connectivity.NewGuard("webhook:ok", connectivity.WithGuardTimeout(0)),
		func(context.Context, trigger.Subject) (any, error) { return "evt_1", nil })
	if res, err := ok(ctx, trigger.Subject{}); err != nil || res != "evt_1" {
		t.Errorf("guarded ok trigger = %v, %v", res, err)
	}
}

func TestRun_OpenDocumentFromLibreOffice(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	mt, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	mt.Write([]byte("application/vnd.oasis.opendocument.text"))
	for _, dir := range []string{"toolbar", "floater", "menubar", "popupmenu", "progressbar", "statusbar", "toolpanel", "images/Bitmaps", "accelerator"} {
		if _, err := zw.Create("Configurations2/" + dir + "/"); err != nil {
			t.Fatal(err)
		}
	}
	parts := []struct{ name, body string }{
		{"manifest.rdf", `<?xml version="1.0"?><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"/>`},
		{"meta.xml", `<?xml version="1.0"?><office:document-meta xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"/>`},
		{"content.xml", `<?xml version="1.0"?><office:document-content xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0" xmlns:text="urn:oasis:names:tc:opendocument:xmlns:text:1.0"><office:body><office:text><text:p>Dear customer, your order has shipped.</text:p></office:text></office:body></office:document-content>`},
		{"styles.xml", `<?xml version="1.0"?><office:document-styles xmlns:office="urn:oasis:names:tc:opendocument:xmlns:office:1.0"/>`},
		{"META-INF/manifest.xml", `<?xml version="1.0"?><manifest:manifest xmlns:manifest="urn:oasis:names:tc:opendocument:xmlns:manifest:1.0"/>`},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(part.body))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	p := newTestPipeline(t, testConfig(t))
	rec := p.Run(context.Background(), buf.Bytes(), "letter.odt", RunOptions{})
	if !rec.Success {
		t.Fatalf("Success = false, stages = %v, errors = %v", stageNames(rec), rec.Errors)
	}
	if rec.Extract == nil || !strings.Contains(rec.Extract.RawText, "order has shipped") {
		t.Errorf("extract = %+v", rec.Extract)
	}
}
