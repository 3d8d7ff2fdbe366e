package ingest

import "time"

// ScanStatus is the outcome of the malware scan step.
type ScanStatus string

const (
	ScanClean       ScanStatus = "clean"
	ScanThreatFound ScanStatus = "threat_found"
	ScanSkipped     ScanStatus = "skipped"
)

// Record is the identity and validation outcome of one upload. It is never
// modified after Ingest returns.
type Record struct {
	Success          bool       `json:"success"`
	FileID           string     `json:"file_id"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"original_filename"`
	SizeBytes        int64      `json:"size_bytes"`
	MIMEType         string     `json:"mime_type"`
	Extension        string     `json:"extension"`
	SHA256           string     `json:"sha256"`
	MD5              string     `json:"md5"`
	Entropy          float64    `json:"entropy"`
	IsDuplicate      bool       `json:"is_duplicate"`
	DuplicateOf      string     `json:"duplicate_of,omitempty"`
	ScanStatus       ScanStatus `json:"scan_status"`
	ScanDetail       string     `json:"scan_detail,omitempty"`
	TempPath         string     `json:"temp_path,omitempty"`
	IngestedAt       time.Time  `json:"ingested_at"`
	Errors           []string   `json:"errors"`
	Warnings         []string   `json:"warnings"`
}

// Options are per-call overrides.
type Options struct {
	// MaxSize overrides the configured limit when > 0.
	MaxSize  int64
	SkipScan bool
}

func (r *Record) addError(msg string)   { r.Errors = append(r.Errors, msg) }
func (r *Record) addWarning(msg string) { r.Warnings = append(r.Warnings, msg) }
