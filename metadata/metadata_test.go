package metadata

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/docpipeline/normalize"
)

var fixedNow = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		label    string
		category string
	}{
		{"invoice", "Invoice number 42. Payment due in 30 days. PO number 7781.", "invoice", "financial"},
		{"nda", "This non-disclosure agreement protects confidential information of the disclosing party", "nda", "legal"},
		{"meeting", "Meeting minutes. Attendees: Ana, Bo. Agenda and action items discussed.", "meeting_notes", "operations"},
		{"nothing", "zzz qqq", General, General},
		{"empty", "", General, General},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text)
			if got.Label != tt.label || got.Category != tt.category {
				t.Errorf("Classify = %s/%s, want %s/%s", got.Label, got.Category, tt.label, tt.category)
			}
			if len(got.Alternatives) > 3 {
				t.Errorf("alternatives = %d", len(got.Alternatives))
			}
		})
	}
}

func TestClassifyConfidence(t *testing.T) {
	got := Classify("invoice")
	// invoice matches "invoice" only: 1/10, boosted by 1.2.
	if got.Confidence != 0.12 || got.MatchRatio != 0.1 {
		t.Errorf("Confidence = %v MatchRatio = %v", got.Confidence, got.MatchRatio)
	}
	if got := Classify("zzz"); got.Confidence != generalConfidence {
		t.Errorf("general confidence = %v", got.Confidence)
	}
}

func TestClassifyTieBreak(t *testing.T) {
	// "total" (receipt) and "tax" (invoice) both score 1/10.
	got := Classify("total tax")
	if got.Label != "invoice" {
		t.Errorf("Label = %q, want invoice", got.Label)
	}
	if len(got.Alternatives) == 0 || got.Alternatives[0].Label != "receipt" {
		t.Errorf("Alternatives = %+v", got.Alternatives)
	}
}

func TestTaxonomy(t *testing.T) {
	if len(Taxonomy) != 17 {
		t.Errorf("labels = %d, want 17", len(Taxonomy))
	}
	if !slices.IsSortedFunc(Taxonomy, func(a, b Label) int { return strings.Compare(a.Name, b.Name) }) {
		t.Error("taxonomy not sorted by name")
	}
	if !IsLabel("invoice") || !IsLabel(General) || IsLabel("txt") {
		t.Error("IsLabel mismatch")
	}
}

func TestKeywordsAndTopics(t *testing.T) {
	text := "Revenue growth drove revenue. Revenue growth again; the and for."
	kw := Keywords(text)
	if len(kw) == 0 || kw[0] != "revenue" {
		t.Errorf("Keywords = %v", kw)
	}
	if slices.Contains(kw, "the") || slices.Contains(kw, "and") {
		t.Errorf("stop words kept: %v", kw)
	}
	topics := Topics(text)
	if len(topics) == 0 || topics[0] != "revenue growth" {
		t.Errorf("Topics = %v", topics)
	}

	long := strings.Repeat("alpha beta gamma delta epsilon zeta theta iota kappa lambda mu nu xi omicron pi rho sigma tau upsilon phi chi psi omega aleph beth gimel ", 2)
	if got := Keywords(long); len(got) != maxKeywords {
		t.Errorf("Keywords len = %d", len(got))
	}
	if got := Topics(long); len(got) != maxTopics {
		t.Errorf("Topics len = %d", len(got))
	}
}

func TestInferDocumentDate(t *testing.T) {
	tests := []struct {
		name  string
		kv    map[string]string
		dates []string
		want  string
	}{
		{"kv date", map[string]string{"Invoice Date": "March 3, 2024"}, []string{"2024-01-01"}, "2024-03-03"},
		{"kv unparseable", map[string]string{"Date": "soon"}, []string{"2024-05-01", "2024-02-01"}, "2024-02-01"},
		{"none", nil, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferDocumentDate(tt.kv, tt.dates); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnnotate(t *testing.T) {
	a := New(nil, fixedNow)
	in := Input{
		FileID:    "doc_1",
		Filename:  "invoice.txt",
		CleanText: "Invoice #123, Total Due: $500.00, Date: 01/15/2024. Payment due on receipt to Acme Corp.",
		KeyValuePairs: map[string]string{
			"Total": "$500.00",
			"Date":  "01/15/2024",
		},
		Entities: []normalize.Entity{
			{Text: "$500.00", Type: "MONEY", Normalized: "USD 500.00"},
			{Text: "Acme Corp", Type: "ORG", Normalized: "Acme Corp"},
			{Text: "Acme Corp", Type: "ORG", Normalized: "Acme Corp"},
		},
		Dates:                []string{"2024-01-15"},
		MonetaryValues:       []normalize.Money{{Amount: 500, Currency: "USD", Formatted: "USD 500.00"}},
		ExtractionConfidence: 0.98,
		DocumentTypeHint:     "txt",
		OwnerID:              "usr_1",
		StageTimings:         map[string]float64{"INGEST": 1.5},
		SourceSystem:         "test",
	}
	rec := a.Annotate(in)

	if rec.DocumentType != "invoice" || rec.Category != "financial" {
		t.Errorf("type = %s/%s", rec.DocumentType, rec.Category)
	}
	if rec.SourceFormat != "txt" {
		t.Errorf("SourceFormat = %q", rec.SourceFormat)
	}
	if rec.DocumentDate != "2024-01-15" || rec.PeriodStart != "2024-01-15" || rec.PeriodEnd != "2024-01-15" {
		t.Errorf("dates = %s %s %s", rec.DocumentDate, rec.PeriodStart, rec.PeriodEnd)
	}
	if got := rec.EntitySummary["ORG"]; !slices.Equal(got, []string{"Acme Corp"}) {
		t.Errorf("ORG summary = %v", got)
	}
	if !rec.UploadedAt.Equal(fixedNow()) {
		t.Errorf("UploadedAt = %v", rec.UploadedAt)
	}
	if rec.Lineage.PipelineVersion != PipelineVersion || rec.Lineage.StageTimings["INGEST"] != 1.5 {
		t.Errorf("Lineage = %+v", rec.Lineage)
	}
	if !strings.Contains(rec.Summary, "Document type: invoice.") || !strings.Contains(rec.Summary, "USD 500.00") ||
		!strings.Contains(rec.Summary, "Organizations: Acme Corp.") || !strings.Contains(rec.Summary, "Total: $500.00") {
		t.Errorf("Summary = %q", rec.Summary)
	}
	if !rec.EmbeddingReady {
		t.Error("EmbeddingReady = false")
	}
	if rec.RelatedDocuments == nil || len(rec.RelatedDocuments) != 0 {
		t.Error("related documents should be empty, not nil")
	}
}

func TestAnnotateHintOverride(t *testing.T) {
	rec := New(nil, fixedNow).Annotate(Input{CleanText: "Invoice number 1", DocumentTypeHint: "contract"})
	if rec.DocumentType != "contract" || rec.Classification.Label != "invoice" {
		t.Errorf("DocumentType = %q Classification = %q", rec.DocumentType, rec.Classification.Label)
	}
	if rec.Summary[:len("Document type: contract.")] != "Document type: contract." {
		t.Errorf("Summary = %q", rec.Summary)
	}
}

func TestAnnotateFlags(t *testing.T) {
	tests := []struct {
		name   string
		in     Input
		want   []string
		status string
	}{
		{"empty", Input{}, []string{FlagLowConfidence, FlagIncomplete, FlagNoDates}, StatusPartial},
		{"near dup", Input{ExtractionConfidence: 0.9, NearDuplicate: true, Dates: []string{"2024-01-01"}}, []string{FlagNearDuplicate, FlagIncomplete}, StatusPartial},
		{"clean", Input{
			ExtractionConfidence: 0.9,
			CleanText:            strings.Repeat("invoice payment due ", 10),
			Dates:                []string{"2024-01-01"},
		}, []string{}, StatusComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := New(nil, fixedNow).Annotate(tt.in)
			if !slices.Equal(rec.Flags, tt.want) {
				t.Errorf("Flags = %v, want %v", rec.Flags, tt.want)
			}
			if rec.Lineage.ProcessingStatus != tt.status {
				t.Errorf("status = %q, want %q", rec.Lineage.ProcessingStatus, tt.status)
			}
			if !rec.Success {
				t.Error("Success = false")
			}
		})
	}
}

func TestCompleteness(t *testing.T) {
	in := Input{
		KeyValuePairs: map[string]string{"a": "1", "b": "2", "c": "3", "d": "4", "e": "5"},
		Dates:         []string{"2024-01-01"},
		Entities:      make([]normalize.Entity, 10),
	}
	// 0.4 + 0.2*0.5 + 0.15 + 0.15*0.5 + 0.1*0.5
	got := completeness(strings.Repeat("x", 101), in, 0.5)
	if got != 0.775 {
		t.Errorf("completeness = %v, want 0.775", got)
	}
	in.Entities = make([]normalize.Entity, 100)
	in.KeyValuePairs = map[string]string{}
	for i := range 30 {
		in.KeyValuePairs[string(rune('a'+i))] = "v"
	}
	if got := completeness(strings.Repeat("x", 101), in, 5); got != 1 {
		t.Errorf("completeness = %v, want capped 1", got)
	}
}

func TestSummaryTruncated(t *testing.T) {
	in := Input{CleanText: strings.Repeat("word ", 400)}
	rec := New(nil, fixedNow).Annotate(in)
	if n := len([]rune(rec.Summary)); n > maxSummary {
		t.Errorf("summary length = %d", n)
	}
}
