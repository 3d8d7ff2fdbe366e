// Package pipeline runs one document through ingest, extract, normalize,
// metadata, storage and trigger, in that order.
//
// Each stage runs under a generic runner that times it, bounds it with the
// configured stage timeout and turns a panic into a failed StageResult. A
// run therefore always returns a Record, whatever the input.
//
// Usage:
//
//	p, err := pipeline.New(*pipeline.DefaultConfig())
//	rec := p.Run(ctx, data, "invoice.pdf", pipeline.RunOptions{UserID: "alice"})
//	fmt.Println(rec.Summary().DocumentType)
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/docpipeline/connectivity"
	"github.com/hazyhaar/docpipeline/dbopen"
	"github.com/hazyhaar/docpipeline/dedup"
	"github.com/hazyhaar/docpipeline/docstore"
	"github.com/hazyhaar/docpipeline/extract"
	"github.com/hazyhaar/docpipeline/ingest"
	"github.com/hazyhaar/docpipeline/kit"
	"github.com/hazyhaar/docpipeline/metadata"
	"github.com/hazyhaar/docpipeline/normalize"
	"github.com/hazyhaar/docpipeline/observability"
	"github.com/hazyhaar/docpipeline/trigger"
)

// nearDuplicateThreshold is the normalize score above which metadata flags
// the document as a near duplicate.
const nearDuplicateThreshold = 0.9

// RunOptions are per-document settings.
type RunOptions struct {
	UserID      string
	Department  string
	ProjectID   string
	SkipScan    bool
	StopOnError bool
}

// Pipeline is the orchestrator. Safe for concurrent Runs.
type Pipeline struct {
	cfg          Config
	logger       *slog.Logger
	stageTimeout time.Duration

	ingester   *ingest.Ingester
	extractor  *extract.Pipeline
	normalizer *normalize.Normalizer
	annotator  *metadata.Annotator

	store      docstore.Store
	storeGuard *connectivity.Guard
	triggers   *trigger.Registry
	metrics    *observability.MetricsManager
	events     *observability.EventLogger

	closers []io.Closer
}

// New builds a Pipeline from cfg. Options replace the collaborators cfg
// would otherwise build.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	p := &Pipeline{
		cfg:          cfg,
		logger:       o.logger,
		stageTimeout: cfg.Pipeline.StageTimeout,
		store:        o.store,
		metrics:      o.metrics,
		events:       o.events,
		triggers:     o.triggers,
	}
	if err := p.openBackends(&o); err != nil {
		p.Close()
		return nil, err
	}

	icfg := cfg.Ingest
	icfg.Logger = o.logger
	icfg.NewID = o.newID
	p.ingester = ingest.New(icfg, o.hashes, o.scanner)

	ecfg := cfg.Extract
	ecfg.Logger = o.logger
	ecfg.OCR = o.ocr
	p.extractor = extract.New(ecfg)

	ncfg := cfg.Normalize
	ncfg.Logger = o.logger
	p.normalizer = normalize.New(ncfg, o.signatures, o.ner)

	p.annotator = metadata.New(o.logger, nil)

	if p.store != nil {
		p.storeGuard = connectivity.NewGuard(p.store.Name(),
			connectivity.WithGuardTimeout(cfg.Storage.Timeout),
			connectivity.WithGuardLogger(o.logger))
	}

	if p.triggers == nil {
		p.triggers = trigger.NewRegistry(o.logger)
	}
	for _, wh := range cfg.Triggers.Webhooks {
		fn, err := trigger.CloudEventsWebhook(wh)
		if err != nil {
			p.Close()
			return nil, err
		}
		guard := connectivity.NewGuard("webhook:"+wh.Name,
			connectivity.WithGuardTimeout(0),
			connectivity.WithGuardLogger(o.logger))
		p.triggers.Register(wh.Name, guardedTrigger(guard, fn))
	}
	return p, nil
}

// guardedTrigger routes fn through g, so an endpoint that keeps failing
// trips its breaker and is skipped until the cooldown passes. The HTTP
// client carries the timeout.
func guardedTrigger(g *connectivity.Guard, fn trigger.Func) trigger.Func {
	return func(ctx context.Context, s trigger.Subject) (any, error) {
		var out any
		err := g.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, s)
			return err
		})
		return out, err
	}
}

// openBackends opens the SQLite registries, store and metrics that cfg asks
// for and no option already supplied.
func (p *Pipeline) openBackends(o *options) error {
	cfg := p.cfg
	if cfg.Dedup.Backend == "sqlite" && (o.hashes == nil || o.signatures == nil) {
		db, err := dbopen.Open(cfg.Dedup.DBPath, dbopen.WithMkdirAll())
		if err != nil {
			return fmt.Errorf("pipeline: dedup db: %w", err)
		}
		p.closers = append(p.closers, db)
		if o.hashes == nil {
			if o.hashes, err = dedup.NewSQLite(db, "file_hashes"); err != nil {
				return err
			}
		}
		if o.signatures == nil {
			if o.signatures, err = dedup.NewSQLite(db, "text_signatures"); err != nil {
				return err
			}
		}
	}

	if p.store == nil && cfg.Storage.Backend == "sqlite" {
		s, err := docstore.OpenSQLite(cfg.Storage.DBPath, cfg.Storage.Collection)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}
		p.closers = append(p.closers, s)
		p.store = s
	}

	if p.metrics == nil && cfg.Metrics.DBPath != "" {
		db, err := dbopen.Open(cfg.Metrics.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
		if err != nil {
			return fmt.Errorf("pipeline: metrics db: %w", err)
		}
		p.closers = append(p.closers, db)
		p.metrics = observability.NewMetricsManager(db, observability.MetricsConfig{
			BufferSize:    cfg.Metrics.BufferSize,
			FlushInterval: cfg.Metrics.FlushInterval,
			Logger:        p.logger,
		})
		p.closers = append(p.closers, p.metrics)
		if p.events == nil {
			p.events = observability.NewEventLogger(db, observability.WithEventLogger(p.logger))
		}
	}
	return nil
}

// Close releases the databases and metrics opened by New, last opened first.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Triggers exposes the trigger registry so callers can register callbacks.
func (p *Pipeline) Triggers() *trigger.Registry { return p.triggers }

// Run processes one document. It never panics and always returns a record.
// If ingest fails, only the ingest stage is populated. If extract fails and
// opts.StopOnError is set, the run stops there; otherwise later stages run
// on whatever extract produced.
func (p *Pipeline) Run(ctx context.Context, data []byte, filename string, opts RunOptions) *Record {
	start := time.Now()
	if opts.UserID == "" {
		opts.UserID = kit.GetUserID(ctx)
	}
	rec := &Record{
		FileID:          "unknown",
		Filename:        filename,
		PipelineVersion: metadata.PipelineVersion,
		Triggers:        []trigger.Fired{},
		Stages:          []StageResult{},
		Errors:          []string{},
		Warnings:        []string{},
	}
	defer p.finish(ctx, rec, start, opts)

	// 1. Ingest.
	ing, sr := runStage(ctx, p, StageIngest, func(ctx context.Context) (*ingest.Record, outcome) {
		r := p.ingester.Ingest(ctx, data, filename, ingest.Options{SkipScan: opts.SkipScan})
		return r, outcome{r.Success, r.Errors, r.Warnings}
	})
	rec.Ingest = ing
	rec.add(sr)
	if ing != nil {
		rec.FileID = ing.FileID
	}
	if !sr.Success {
		return rec
	}
	fileID := rec.FileID

	// 2. Extract, from the bytes persisted at ingest.
	ext, sr := runStage(ctx, p, StageExtract, func(ctx context.Context) (*extract.Record, outcome) {
		body, readWarn := persistedBytes(ing, data)
		r := p.extractor.Extract(ctx, body, fileID, filename, ing.MIMEType)
		if readWarn != "" {
			r.Warnings = append(r.Warnings, readWarn)
		}
		return r, outcome{r.Success, r.Errors, r.Warnings}
	})
	rec.Extract = ext
	rec.add(sr)
	if !sr.Success && opts.StopOnError {
		return rec
	}

	var (
		rawText    string
		extractKV  = map[string]string{}
		docType    string
		confidence = 0.5
		chunks     = []string{}
	)
	if ext != nil {
		rawText, docType, confidence, chunks = ext.RawText, ext.DocumentType, ext.Confidence, ext.Chunks
		if ext.KeyValuePairs != nil {
			extractKV = ext.KeyValuePairs
		}
	}

	// 3. Normalize.
	norm, sr := runStage(ctx, p, StageNormalize, func(ctx context.Context) (*normalize.Record, outcome) {
		r := p.normalizer.Normalize(ctx, rawText, fileID, extractKV, docType)
		return r, outcome{r.Success, r.Errors, r.Warnings}
	})
	rec.Normalize = norm
	rec.add(sr)

	// 4. Metadata.
	in := metadata.Input{
		FileID:               fileID,
		Filename:             filename,
		CleanText:            rawText,
		RawText:              rawText,
		KeyValuePairs:        combineKV(extractKV, norm),
		ExtractionConfidence: confidence,
		DocumentTypeHint:     docType,
		OwnerID:              opts.UserID,
		UploadedBy:           opts.UserID,
		Department:           opts.Department,
		ProjectID:            opts.ProjectID,
		StageTimings:         rec.StageTimings(),
		SourceSystem:         p.cfg.Pipeline.SourceSystem,
		UploadedAt:           ing.IngestedAt,
	}
	if norm != nil {
		in.CleanText = norm.CleanText
		in.Entities = norm.Entities
		in.Dates = norm.Dates
		in.MonetaryValues = norm.MonetaryValues
		in.NearDuplicate = norm.NearDuplicateScore > nearDuplicateThreshold
	}
	meta, sr := runStage(ctx, p, StageMetadata, func(context.Context) (*metadata.Record, outcome) {
		r := p.annotator.Annotate(in)
		return r, outcome{r.Success, r.Errors, r.Warnings}
	})
	rec.Metadata = meta
	rec.add(sr)

	// 5. Storage.
	doc := docstore.Document{FileID: fileID, Filename: filename, Chunks: chunks, Metadata: map[string]any{}}
	if meta != nil {
		doc.Metadata = toMap(meta)
		doc.Summary = meta.Summary
	}
	ack, sr := runStage(ctx, p, StageStorage, func(ctx context.Context) (*docstore.Ack, outcome) {
		return p.storeDocument(ctx, doc)
	})
	rec.Storage = ack
	rec.add(sr)

	// 6. Triggers see the run as it stands before this stage.
	subject := trigger.Subject{FileID: fileID, Filename: filename, Record: p.partialSummary(rec, start)}
	if meta != nil {
		subject.DocumentType, subject.Category = meta.DocumentType, meta.Category
	}
	fired, sr := runStage(ctx, p, StageTrigger, func(ctx context.Context) ([]trigger.Fired, outcome) {
		return p.triggers.Fire(ctx, subject), outcome{success: true}
	})
	if fired != nil {
		rec.Triggers = fired
	}
	rec.add(sr)
	return rec
}

// storeDocument writes doc through the guarded store. Absence or failure of
// the store degrades to a stub acknowledgement with a warning.
func (p *Pipeline) storeDocument(ctx context.Context, doc docstore.Document) (*docstore.Ack, outcome) {
	if p.store == nil {
		ack := docstore.StubAck(doc, "")
		return &ack, outcome{success: true}
	}
	var stored atomic.Pointer[docstore.Ack]
	err := p.storeGuard.Do(ctx, func(ctx context.Context) error {
		ack, err := p.store.Store(ctx, doc)
		if err != nil {
			return err
		}
		stored.Store(&ack)
		return nil
	})
	if ack := stored.Load(); err == nil && ack != nil {
		return ack, outcome{success: true}
	}
	if err == nil {
		err = docstore.ErrUnavailable
	}
	p.logger.Warn("pipeline: document store failed, using stub", "file_id", doc.FileID, "store", p.store.Name(), "error", err)
	ack := docstore.StubAck(doc, "store "+p.store.Name()+" failed: "+err.Error())
	return &ack, outcome{
		success:  true,
		warnings: []string{fmt.Sprintf("document store %s unavailable, stored to stub: %v", p.store.Name(), err)},
	}
}

func (p *Pipeline) partialSummary(rec *Record, start time.Time) Summary {
	s := rec.Summary()
	s.Success = allSucceeded(rec.Stages)
	s.TotalDurationMs = msSince(start)
	return s
}

func (p *Pipeline) finish(ctx context.Context, rec *Record, start time.Time, opts RunOptions) {
	rec.TotalDurationMs = msSince(start)
	rec.Success = allSucceeded(rec.Stages)

	docType := ""
	if rec.Metadata != nil {
		docType = rec.Metadata.DocumentType
	}
	p.logger.Info("pipeline: complete",
		"file_id", rec.FileID, "filename", rec.Filename, "success", rec.Success,
		"transport", kit.GetTransport(ctx), "request_id", kit.GetRequestID(ctx),
		"document_type", docType, "duration_ms", rec.TotalDurationMs,
		"errors", len(rec.Errors), "warnings", len(rec.Warnings))

	if p.metrics != nil {
		p.metrics.ObserveRun(rec.TotalDurationMs, rec.Success, docType)
	}
	if p.events != nil {
		ev := observability.DocumentEvent{
			EventType:    observability.EventDocumentProcessed,
			FileID:       rec.FileID,
			UserID:       opts.UserID,
			Filename:     rec.Filename,
			DocumentType: docType,
			Success:      rec.Success,
			DurationMs:   rec.TotalDurationMs,
			Details: map[string]any{
				"stage_timings": rec.StageTimings(),
				"errors":        rec.Errors,
				"transport":     kit.GetTransport(ctx),
				"request_id":    kit.GetRequestID(ctx),
			},
		}
		if rec.Extract == nil {
			ev.EventType = observability.EventDocumentRejected
		}
		p.events.Log(context.WithoutCancel(ctx), ev)
	}
}

// outcome is what a stage function reports besides its record.
type outcome struct {
	success  bool
	errors   []string
	warnings []string
}

type stageDone[T any] struct {
	val   T
	out   outcome
	panic any
	stack string
}

// runStage runs fn as stage name: timed, bounded by the stage timeout, and
// with a panic turned into a failed result. On timeout fn keeps running in
// its goroutine but its result is discarded.
func runStage[T any](ctx context.Context, p *Pipeline, name string, fn func(context.Context) (T, outcome)) (T, StageResult) {
	start := time.Now()
	sctx, cancel := ctx, context.CancelFunc(func() {})
	if p.stageTimeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
	}
	defer cancel()

	done := make(chan stageDone[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stageDone[T]{panic: r, stack: string(debug.Stack())}
			}
		}()
		v, out := fn(sctx)
		done <- stageDone[T]{val: v, out: out}
	}()

	var val T
	sr := StageResult{Stage: name, Errors: []string{}, Warnings: []string{}}
	select {
	case d := <-done:
		if d.panic != nil {
			p.logger.Error("pipeline: stage crashed", "stage", name, "panic", d.panic, "stack", d.stack)
			sr.Errors = append(sr.Errors, fmt.Sprintf("%s crashed: %v", name, d.panic))
			break
		}
		val = d.val
		sr.Errors = append(sr.Errors, d.out.errors...)
		sr.Warnings = append(sr.Warnings, d.out.warnings...)
		sr.Success = d.out.success && len(sr.Errors) == 0
	case <-sctx.Done():
		if ctx.Err() != nil {
			sr.Errors = append(sr.Errors, fmt.Sprintf("%s cancelled: %v", name, ctx.Err()))
		} else {
			sr.Errors = append(sr.Errors, fmt.Sprintf("%s timed out after %s", name, p.stageTimeout))
		}
	}
	sr.DurationMs = msSince(start)

	status := "OK"
	if !sr.Success {
		status = "FAIL"
	}
	p.logger.Info("pipeline: stage", "stage", name, "status", status, "duration_ms", sr.DurationMs)
	if p.metrics != nil {
		p.metrics.ObserveStage(name, sr.DurationMs, sr.Success)
	}
	return val, sr
}

// persistedBytes reads the ingest temp copy, falling back to the caller's
// buffer when it is gone.
func persistedBytes(ing *ingest.Record, data []byte) ([]byte, string) {
	if ing.TempPath == "" {
		return data, ""
	}
	b, err := os.ReadFile(ing.TempPath)
	if err != nil {
		return data, fmt.Sprintf("temp copy unreadable, using upload buffer: %v", err)
	}
	return b, ""
}

// combineKV overlays the normalize pairs on the extract pairs.
func combineKV(extractKV map[string]string, norm *normalize.Record) map[string]string {
	out := make(map[string]string, len(extractKV))
	for k, v := range extractKV {
		out[k] = v
	}
	if norm != nil {
		for k, v := range norm.KeyValuePairs {
			out[k] = v
		}
	}
	return out
}

// toMap renders the metadata record as the generic map stored with chunks.
func toMap(m *metadata.Record) map[string]any {
	b, err := json.Marshal(m)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func allSucceeded(stages []StageResult) bool {
	for _, s := range stages {
		if !s.Success {
			return false
		}
	}
	return true
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
