package extract

import (
	"regexp"
	"strings"
	"unicode"
)

// Quality captures how trustworthy text pulled from a PDF looks.
type Quality struct {
	PageCount       int     `json:"page_count"`
	CharsPerPage    float64 `json:"chars_per_page"`
	PrintableRatio  float64 `json:"printable_ratio"`
	WordlikeRatio   float64 `json:"wordlike_ratio"`
	HasImageStreams bool    `json:"has_image_streams"`
	VisualRefCount  int     `json:"visual_ref_count"`
}

// NeedsOCR reports whether the text layer is too thin or too garbled to
// stand on its own.
func (q *Quality) NeedsOCR() bool {
	return (q.CharsPerPage < 50 && q.HasImageStreams) || q.PrintableRatio < 0.85
}

// HasVisualGap reports figure/table references in a document with images.
func (q *Quality) HasVisualGap() bool {
	return q.VisualRefCount > 0 && q.HasImageStreams
}

// Confidence scales base by the printable and word-like ratios, capped at
// 0.5 when OCR would be needed.
func (q *Quality) Confidence(base float64) float64 {
	c := base * q.PrintableRatio
	if q.WordlikeRatio < 0.5 {
		c *= 0.5 + q.WordlikeRatio
	}
	if q.NeedsOCR() {
		c = min(c, 0.5)
	}
	return clamp01(c)
}

func measureQuality(text string, pages int, hasImages bool) *Quality {
	q := &Quality{
		PageCount:       pages,
		PrintableRatio:  printableRatio(text),
		WordlikeRatio:   wordlikeRatio(text),
		HasImageStreams: hasImages,
		VisualRefCount:  countVisualRefs(text),
	}
	if pages > 0 {
		q.CharsPerPage = float64(len([]rune(text))) / float64(pages)
	}
	return q
}

// printableRatio excludes the private use area, U+FFFD and control
// characters other than whitespace.
func printableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		total++
		if isGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(printable) / float64(total)
}

func isGarbageRune(r rune) bool {
	return (r >= 0xE000 && r <= 0xF8FF) || r == 0xFFFD ||
		(r < 0x0020 && r != '\n' && r != '\r' && r != '\t')
}

// wordlikeRatio is the share of tokens 2 to 15 runes long.
func wordlikeRatio(text string) float64 {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	wordlike := 0
	for _, f := range fields {
		if n := len([]rune(f)); n >= 2 && n <= 15 {
			wordlike++
		}
	}
	return float64(wordlike) / float64(len(fields))
}

var visualRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(see|refer\s+to|voir|cf\.?)\s+(la\s+)?(figure|fig\.?|table|tableau|diagram|chart|graph|image)\s*\d`),
	regexp.MustCompile(`(?i)(figure|fig\.?|table|exhibit)\s+\d+`),
}

func countVisualRefs(text string) int {
	count := 0
	for _, pat := range visualRefPatterns {
		count += len(pat.FindAllString(text, -1))
	}
	return count
}
