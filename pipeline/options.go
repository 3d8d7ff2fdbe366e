package pipeline

import (
	"log/slog"

	"github.com/hazyhaar/docpipeline/dedup"
	"github.com/hazyhaar/docpipeline/docstore"
	"github.com/hazyhaar/docpipeline/extract"
	"github.com/hazyhaar/docpipeline/idgen"
	"github.com/hazyhaar/docpipeline/ingest"
	"github.com/hazyhaar/docpipeline/normalize"
	"github.com/hazyhaar/docpipeline/observability"
	"github.com/hazyhaar/docpipeline/trigger"
)

// Option overrides a collaborator that Config would otherwise build.
type Option func(*options)

type options struct {
	scanner    ingest.Scanner
	ocr        extract.OCR
	ner        normalize.NER
	store      docstore.Store
	hashes     dedup.Store
	signatures dedup.Store
	triggers   *trigger.Registry
	metrics    *observability.MetricsManager
	events     *observability.EventLogger
	logger     *slog.Logger
	newID      idgen.Generator
}

// WithScanner sets the antivirus scanner used at ingest.
func WithScanner(s ingest.Scanner) Option { return func(o *options) { o.scanner = s } }

// WithOCR sets the OCR engine for images.
func WithOCR(ocr extract.OCR) Option { return func(o *options) { o.ocr = ocr } }

// WithNER sets the named-entity recogniser used at normalize.
func WithNER(ner normalize.NER) Option { return func(o *options) { o.ner = ner } }

// WithStore sets the document store. Nil keeps the stub.
func WithStore(s docstore.Store) Option { return func(o *options) { o.store = s } }

// WithHashRegistry sets the SHA-256 → file id registry.
func WithHashRegistry(s dedup.Store) Option { return func(o *options) { o.hashes = s } }

// WithSignatureRegistry sets the text signature → file id registry.
func WithSignatureRegistry(s dedup.Store) Option { return func(o *options) { o.signatures = s } }

// WithTriggers sets the trigger registry. Configured webhooks are added to it.
func WithTriggers(r *trigger.Registry) Option { return func(o *options) { o.triggers = r } }

// WithMetrics records stage and run metrics.
func WithMetrics(m *observability.MetricsManager) Option { return func(o *options) { o.metrics = m } }

// WithEvents records one document event per run.
func WithEvents(l *observability.EventLogger) Option { return func(o *options) { o.events = l } }

// WithLogger sets the logger for every stage.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithIDGenerator sets the file id generator.
func WithIDGenerator(g idgen.Generator) Option { return func(o *options) { o.newID = g } }
