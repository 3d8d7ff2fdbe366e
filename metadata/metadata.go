// Package metadata classifies a normalised document and derives the
// descriptive record stored alongside it: keywords, topics, entity summary,
// completeness, processing flags, lineage and a short summary.
package metadata

import (
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/docpipeline/normalize"
)

// PipelineVersion is recorded in every record's lineage.
const PipelineVersion = "2.0.0"

// Processing flags.
const (
	FlagLowConfidence = "low_confidence"
	FlagNearDuplicate = "near_duplicate"
	FlagIncomplete    = "incomplete"
	FlagNoDates       = "no_dates_found"
)

// Processing status values.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

// Input is everything the metadata stage looks at.
type Input struct {
	FileID               string
	Filename             string
	CleanText            string
	RawText              string
	KeyValuePairs        map[string]string
	Entities             []normalize.Entity
	Dates                []string
	MonetaryValues       []normalize.Money
	ExtractionConfidence float64
	DocumentTypeHint     string
	OwnerID              string
	UploadedBy           string
	Department           string
	ProjectID            string
	StageTimings         map[string]float64
	NearDuplicate        bool
	SourceSystem         string
	UploadedAt           time.Time
}

// Lineage records where a document came from and how it was processed.
type Lineage struct {
	SourceSystem     string             `json:"source_system"`
	PipelineVersion  string             `json:"pipeline_version"`
	StageTimings     map[string]float64 `json:"stage_timings_ms"`
	ProcessingStatus string             `json:"processing_status"`
}

// Record is the metadata stage output.
type Record struct {
	Success              bool                `json:"success"`
	FileID               string              `json:"file_id"`
	Filename             string              `json:"filename"`
	DocumentType         string              `json:"document_type"`
	SourceFormat         string              `json:"source_format,omitempty"`
	Category             string              `json:"category"`
	Subcategory          string              `json:"subcategory"`
	ClassificationScore  float64             `json:"classification_confidence"`
	Classification       Classification      `json:"classification"`
	Keywords             []string            `json:"keywords"`
	Topics               []string            `json:"topics"`
	EntitySummary        map[string][]string `json:"entity_summary"`
	OwnerID              string              `json:"owner_id,omitempty"`
	UploadedBy           string              `json:"uploaded_by,omitempty"`
	Department           string              `json:"department,omitempty"`
	ProjectID            string              `json:"project_id,omitempty"`
	UploadedAt           time.Time           `json:"uploaded_at"`
	DocumentDate         string              `json:"document_date,omitempty"`
	PeriodStart          string              `json:"period_start,omitempty"`
	PeriodEnd            string              `json:"period_end,omitempty"`
	ExtractionConfidence float64             `json:"extraction_confidence"`
	Completeness         float64             `json:"completeness_score"`
	Flags                []string            `json:"processing_flags"`
	Lineage              Lineage             `json:"lineage"`
	RelatedDocuments     []string            `json:"related_documents"`
	Supersedes           []string            `json:"supersedes"`
	SupersededBy         []string            `json:"superseded_by"`
	Summary              string              `json:"summary"`
	EmbeddingReady       bool                `json:"embedding_ready"`
	Errors               []string            `json:"errors"`
	Warnings             []string            `json:"warnings"`
}

// Annotator is the metadata stage.
type Annotator struct {
	logger *slog.Logger
	now    func() time.Time
}

// New returns an Annotator. A nil logger uses slog.Default; a nil now uses
// time.Now.
func New(logger *slog.Logger, now func() time.Time) *Annotator {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Annotator{logger: logger, now: now}
}

// Annotate classifies the document and builds its metadata record. It
// always succeeds; empty input yields a General record with flags set.
func (a *Annotator) Annotate(in Input) *Record {
	text := in.CleanText
	if text == "" {
		text = in.RawText
	}
	cls := Classify(text + " " + in.Filename)

	rec := &Record{
		Success:              true,
		FileID:               in.FileID,
		Filename:             in.Filename,
		DocumentType:         cls.Label,
		Category:             cls.Category,
		Subcategory:          cls.Subcategory,
		ClassificationScore:  cls.Confidence,
		Classification:       cls,
		Keywords:             Keywords(text),
		Topics:               Topics(text),
		EntitySummary:        summarizeEntities(in.Entities),
		OwnerID:              in.OwnerID,
		UploadedBy:           in.UploadedBy,
		Department:           in.Department,
		ProjectID:            in.ProjectID,
		UploadedAt:           in.UploadedAt,
		DocumentDate:         inferDocumentDate(in.KeyValuePairs, in.Dates),
		ExtractionConfidence: in.ExtractionConfidence,
		RelatedDocuments:     []string{},
		Supersedes:           []string{},
		SupersededBy:         []string{},
		Errors:               []string{},
		Warnings:             []string{},
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = a.now().UTC()
	}
	rec.PeriodStart, rec.PeriodEnd = period(in.Dates)

	hint := strings.ToLower(strings.TrimSpace(in.DocumentTypeHint))
	switch {
	case hint == "":
	case IsLabel(hint):
		rec.DocumentType = hint
	default:
		rec.SourceFormat = hint
	}

	rec.Completeness = completeness(text, in, cls.MatchRatio)
	rec.Flags = flags(in, rec.Completeness)
	status := StatusComplete
	if len(rec.Flags) > 0 {
		status = StatusPartial
	}
	timings := make(map[string]float64, len(in.StageTimings))
	for k, v := range in.StageTimings {
		timings[k] = v
	}
	rec.Lineage = Lineage{
		SourceSystem:     in.SourceSystem,
		PipelineVersion:  PipelineVersion,
		StageTimings:     timings,
		ProcessingStatus: status,
	}
	rec.Summary = buildSummary(rec.DocumentType, in, rec.EntitySummary)
	rec.EmbeddingReady = utf8.RuneCountInString(text) > 50

	a.logger.Debug("metadata: annotated", "file_id", in.FileID,
		"document_type", rec.DocumentType, "confidence", rec.ClassificationScore, "flags", rec.Flags)
	return rec
}

// completeness adds up to 1: text length 0.4, key-value pairs 0.2, dates
// 0.15, entities 0.15, taxonomy match 0.1.
func completeness(text string, in Input, matchRatio float64) float64 {
	score := 0.0
	if utf8.RuneCountInString(text) > 100 {
		score += 0.4
	}
	score += 0.2 * min(1, float64(len(in.KeyValuePairs))/10)
	if len(in.Dates) > 0 {
		score += 0.15
	}
	score += 0.15 * min(1, float64(len(in.Entities))/20)
	score += 0.1 * min(1, matchRatio)
	return math.Round(min(1, score)*1000) / 1000
}

func flags(in Input, completeness float64) []string {
	out := []string{}
	if in.ExtractionConfidence < 0.5 {
		out = append(out, FlagLowConfidence)
	}
	if in.NearDuplicate {
		out = append(out, FlagNearDuplicate)
	}
	if completeness < 0.4 {
		out = append(out, FlagIncomplete)
	}
	if len(in.Dates) == 0 {
		out = append(out, FlagNoDates)
	}
	return out
}

// summarizeEntities groups entity values by type, first occurrence first.
// Normalised forms are used so "$5" and "USD 5.00" collapse.
func summarizeEntities(entities []normalize.Entity) map[string][]string {
	out := map[string][]string{}
	for _, e := range entities {
		v := e.Normalized
		if v == "" {
			v = e.Text
		}
		if !slices.Contains(out[e.Type], v) {
			out[e.Type] = append(out[e.Type], v)
		}
	}
	return out
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
