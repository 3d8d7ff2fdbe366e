// Package normalize cleans extracted text and pulls structured data out of
// it: dates, money, phone numbers, emails, URLs, key-value pairs, sections
// and named entities. It also computes the token-set signature used to spot
// repeated documents.
//
// Normalize never fails. Problems are reported as warnings or advisory
// validation errors on the returned record.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/docpipeline/dedup"
)

// NamedEntity is one mention reported by an NER collaborator. Start and End
// are rune offsets into the text it was given; both zero means unknown.
type NamedEntity struct {
	Text  string
	Type  string
	Start int
	End   int
}

// NER recognises named entities (ORG, PERSON, GPE, ...) in cleaned text.
type NER interface {
	Recognize(ctx context.Context, text string) ([]NamedEntity, error)
}

// NERFunc adapts a function to NER.
type NERFunc func(ctx context.Context, text string) ([]NamedEntity, error)

func (f NERFunc) Recognize(ctx context.Context, text string) ([]NamedEntity, error) {
	return f(ctx, text)
}

// Config controls the normalize stage.
type Config struct {
	// NERTimeout bounds one NER call (default 30s).
	NERTimeout time.Duration `json:"ner_timeout" yaml:"ner_timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.NERTimeout <= 0 {
		c.NERTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Normalizer is the normalize stage. Safe for concurrent use.
type Normalizer struct {
	cfg        Config
	logger     *slog.Logger
	signatures dedup.Store
	ner        NER
}

// New returns a Normalizer. signatures is the signature → file id registry;
// nil uses a private in-memory one. ner may be nil.
func New(cfg Config, signatures dedup.Store, ner NER) *Normalizer {
	cfg.defaults()
	if signatures == nil {
		signatures = dedup.NewMemory()
	}
	return &Normalizer{cfg: cfg, logger: cfg.Logger, signatures: signatures, ner: ner}
}

// Normalize cleans rawText and extracts its structured content. kv holds
// pairs found at extraction; pairs found here win on key collision.
// docType selects the business rules to check.
func (n *Normalizer) Normalize(ctx context.Context, rawText, fileID string, kv map[string]string, docType string) *Record {
	rec := newRecord(fileID)
	clean := CleanText(rawText)
	rec.CleanText = clean
	rec.OriginalLength = utf8.RuneCountInString(rawText)
	rec.CleanedLength = utf8.RuneCountInString(clean)
	if rec.OriginalLength > 0 {
		rec.NoiseRatio = round3(1 - float64(rec.CleanedLength)/float64(rec.OriginalLength))
	}

	dates := extractDates(clean)
	rec.Dates = uniqueDates(dates)
	for _, d := range dates {
		rec.addEntity(clean, d.raw, EntityDate, d.iso, d.start, d.end)
	}

	for _, m := range extractMoney(clean) {
		rec.MonetaryValues = append(rec.MonetaryValues, m.Money)
		rec.addEntity(clean, m.Raw, EntityMoney, m.Formatted, m.start, m.end)
	}

	emails := extractEmails(clean)
	rec.Emails = uniqueSorted(emails)
	for _, m := range emails {
		rec.addEntity(clean, m.raw, EntityEmail, m.normalized, m.start, m.end)
	}

	phones := extractPhones(clean)
	rec.Phones = uniqueOrdered(phones)
	for _, m := range phones {
		rec.addEntity(clean, m.raw, EntityPhone, m.normalized, m.start, m.end)
	}

	urls := extractURLs(clean)
	rec.URLs = uniqueSorted(urls)
	for _, m := range urls {
		rec.addEntity(clean, m.raw, EntityURL, m.normalized, m.start, m.end)
	}

	n.recognize(ctx, clean, rec)

	for k, v := range kv {
		rec.KeyValuePairs[k] = v
	}
	for k, v := range extractKV(clean) {
		rec.KeyValuePairs[k] = v
	}
	rec.Sections = splitSections(clean)
	rec.ValidationErrors = validate(docType, rec.KeyValuePairs)

	n.checkSignature(ctx, rec)

	n.logger.Debug("normalize: done", "file_id", fileID,
		"entities", len(rec.Entities), "dates", len(rec.Dates), "kv", len(rec.KeyValuePairs))
	return rec
}

// recognize appends collaborator entities. A failing or absent NER leaves
// the regex entities alone.
func (n *Normalizer) recognize(ctx context.Context, clean string, rec *Record) {
	if n.ner == nil || clean == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, n.cfg.NERTimeout)
	defer cancel()
	found, err := n.ner.Recognize(ctx, clean)
	if err != nil {
		n.logger.Warn("normalize: ner failed", "file_id", rec.FileID, "error", err)
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("ner unavailable: %v", err))
		return
	}
	for _, e := range found {
		ent := Entity{Text: e.Text, Type: e.Type, Normalized: e.Text, Confidence: nerConfidence}
		if e.End > e.Start {
			ent.Span = &Span{Start: e.Start, End: e.End}
		}
		rec.Entities = append(rec.Entities, ent)
	}
}

// checkSignature registers the text signature or reports the file that
// registered it first.
func (n *Normalizer) checkSignature(ctx context.Context, rec *Record) {
	rec.DedupSignature = Signature(rec.CleanText)
	if rec.DedupSignature == "" {
		return
	}
	prior, dup, err := n.signatures.CheckOrRegister(ctx, rec.DedupSignature, rec.FileID)
	if err != nil {
		n.logger.Warn("normalize: signature registry", "file_id", rec.FileID, "error", err)
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("signature registry unavailable: %v", err))
		return
	}
	if dup {
		rec.NearDuplicateScore = 1.0
		rec.NearDuplicateOf = prior
		rec.Warnings = append(rec.Warnings, "near-duplicate of "+prior)
	}
}

// addEntity records a regex match; byte offsets are converted to runes.
func (r *Record) addEntity(text, raw, typ, normalized string, start, end int) {
	rs := utf8.RuneCountInString(text[:start])
	r.Entities = append(r.Entities, Entity{
		Text:       raw,
		Type:       typ,
		Normalized: normalized,
		Confidence: entityConfidence[typ],
		Span:       &Span{Start: rs, End: rs + utf8.RuneCountInString(text[start:end])},
	})
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
