package normalize

// Entity types produced by the regex extractors. NER collaborators may add
// others (ORG, PERSON, GPE, ...).
const (
	EntityDate  = "DATE"
	EntityMoney = "MONEY"
	EntityEmail = "EMAIL"
	EntityPhone = "PHONE"
	EntityURL   = "URL"
)

// entityConfidence is the fixed confidence given to each regex-derived type.
var entityConfidence = map[string]float64{
	EntityDate:  0.9,
	EntityMoney: 0.85,
	EntityEmail: 0.99,
	EntityPhone: 0.85,
	EntityURL:   0.9,
}

// nerConfidence is used for collaborator entities, which carry no score.
const nerConfidence = 0.75

// Span is a rune range [Start, End) in the cleaned text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Entity is one typed mention.
type Entity struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Normalized string  `json:"normalized"`
	Confidence float64 `json:"confidence"`
	Span       *Span   `json:"span,omitempty"`
}

// Money is one monetary amount found in text.
type Money struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Formatted string  `json:"formatted"`
	Raw       string  `json:"raw"`
}

// Section is a heading-delimited slice of the text.
type Section struct {
	Title     string `json:"title"`
	Level     int    `json:"level"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
}

// Record is the normalize stage output.
type Record struct {
	Success            bool              `json:"success"`
	FileID             string            `json:"file_id"`
	CleanText          string            `json:"clean_text"`
	OriginalLength     int               `json:"original_length"`
	CleanedLength      int               `json:"cleaned_length"`
	NoiseRatio         float64           `json:"noise_ratio"`
	Entities           []Entity          `json:"entities"`
	Dates              []string          `json:"dates"`
	MonetaryValues     []Money           `json:"monetary_values"`
	Phones             []string          `json:"phone_numbers"`
	Emails             []string          `json:"emails"`
	URLs               []string          `json:"urls"`
	KeyValuePairs      map[string]string `json:"key_value_pairs"`
	Sections           []Section         `json:"sections"`
	ValidationErrors   []string          `json:"validation_errors"`
	DedupSignature     string            `json:"dedup_signature"`
	NearDuplicateScore float64           `json:"near_duplicate_score"`
	NearDuplicateOf    string            `json:"near_duplicate_of,omitempty"`
	Errors             []string          `json:"errors"`
	Warnings           []string          `json:"warnings"`
}

func newRecord(fileID string) *Record {
	return &Record{
		Success:          true,
		FileID:           fileID,
		Entities:         []Entity{},
		Dates:            []string{},
		MonetaryValues:   []Money{},
		Phones:           []string{},
		Emails:           []string{},
		URLs:             []string{},
		KeyValuePairs:    map[string]string{},
		Sections:         []Section{},
		ValidationErrors: []string{},
		Errors:           []string{},
		Warnings:         []string{},
	}
}
