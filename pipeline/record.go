package pipeline

import (
	"github.com/hazyhaar/docpipeline/docstore"
	"github.com/hazyhaar/docpipeline/extract"
	"github.com/hazyhaar/docpipeline/ingest"
	"github.com/hazyhaar/docpipeline/metadata"
	"github.com/hazyhaar/docpipeline/normalize"
	"github.com/hazyhaar/docpipeline/trigger"
)

// Stage names, in execution order.
const (
	StageIngest    = "INGEST"
	StageExtract   = "EXTRACT"
	StageNormalize = "NORMALIZE"
	StageMetadata  = "METADATA"
	StageStorage   = "STORAGE"
	StageTrigger   = "TRIGGER"
)

// StageResult is the outcome of one stage run.
type StageResult struct {
	Stage      string   `json:"stage"`
	Success    bool     `json:"success"`
	DurationMs float64  `json:"duration_ms"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings"`
}

// Record is the result of one pipeline run. Stage records are nil for
// stages that did not run or crashed.
type Record struct {
	Success         bool              `json:"success"`
	FileID          string            `json:"file_id"`
	Filename        string            `json:"filename"`
	PipelineVersion string            `json:"pipeline_version"`
	TotalDurationMs float64           `json:"total_duration_ms"`
	Ingest          *ingest.Record    `json:"ingest,omitempty"`
	Extract         *extract.Record   `json:"extract,omitempty"`
	Normalize       *normalize.Record `json:"normalize,omitempty"`
	Metadata        *metadata.Record  `json:"metadata,omitempty"`
	Storage         *docstore.Ack     `json:"storage,omitempty"`
	Triggers        []trigger.Fired   `json:"triggers"`
	Stages          []StageResult     `json:"stage_results"`
	Errors          []string          `json:"errors"`
	Warnings        []string          `json:"warnings"`
}

// Stage returns the named stage result, if that stage ran.
func (r *Record) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// StageTimings maps each executed stage to its duration in milliseconds.
func (r *Record) StageTimings() map[string]float64 {
	out := make(map[string]float64, len(r.Stages))
	for _, s := range r.Stages {
		out[s.Stage] = s.DurationMs
	}
	return out
}

func (r *Record) add(sr StageResult) {
	r.Stages = append(r.Stages, sr)
	r.Errors = append(r.Errors, sr.Errors...)
	r.Warnings = append(r.Warnings, sr.Warnings...)
}

// Summary is the compact view of a run returned to API and CLI callers.
type Summary struct {
	FileID                   string             `json:"file_id"`
	Filename                 string             `json:"filename"`
	Success                  bool               `json:"success"`
	DocumentType             string             `json:"document_type"`
	Category                 string             `json:"category"`
	ClassificationConfidence float64            `json:"classification_confidence"`
	WordCount                int                `json:"word_count"`
	PageCount                int                `json:"page_count"`
	Language                 string             `json:"language"`
	Dates                    []string           `json:"dates"`
	MonetaryValues           []normalize.Money  `json:"monetary_values"`
	EntitiesCount            int                `json:"entities_count"`
	Keywords                 []string           `json:"keywords"`
	Summary                  string             `json:"summary"`
	ProcessingFlags          []string           `json:"processing_flags"`
	TotalDurationMs          float64            `json:"total_duration_ms"`
	StageTimings             map[string]float64 `json:"stage_timings"`
	Errors                   []string           `json:"errors"`
	Warnings                 []string           `json:"warnings"`
}

// Summary builds the compact view. Missing stages yield "unknown" and
// zero values.
func (r *Record) Summary() Summary {
	s := Summary{
		FileID:          r.FileID,
		Filename:        r.Filename,
		Success:         r.Success,
		DocumentType:    "unknown",
		Category:        "unknown",
		Language:        "unknown",
		Dates:           []string{},
		MonetaryValues:  []normalize.Money{},
		Keywords:        []string{},
		ProcessingFlags: []string{},
		TotalDurationMs: r.TotalDurationMs,
		StageTimings:    r.StageTimings(),
		Errors:          nonNil(r.Errors),
		Warnings:        nonNil(r.Warnings),
	}
	if m := r.Metadata; m != nil {
		s.DocumentType = m.DocumentType
		s.Category = m.Category
		s.ClassificationConfidence = m.ClassificationScore
		s.Keywords = m.Keywords[:min(len(m.Keywords), 10)]
		s.Summary = m.Summary
		s.ProcessingFlags = m.Flags
	}
	if e := r.Extract; e != nil {
		s.WordCount = e.WordCount
		s.PageCount = e.PageCount
		s.Language = e.Language
	}
	if n := r.Normalize; n != nil {
		s.Dates = n.Dates
		s.MonetaryValues = n.MonetaryValues
		s.EntitiesCount = len(n.Entities)
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
