package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodedText is text converted to UTF-8 plus how it was obtained.
type decodedText struct {
	text    string
	charset string
	lossy   bool
}

// decodeText converts data to UTF-8. Valid UTF-8 passes through; otherwise
// the charset is detected and decoded, and as a last resort invalid bytes
// are replaced.
func decodeText(data []byte) decodedText {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return decodedText{text: string(data), charset: "UTF-8"}
	}

	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res.Charset != "" {
		if enc, err := htmlindex.Get(res.Charset); err == nil {
			if out, err := enc.NewDecoder().Bytes(data); err == nil && utf8.Valid(out) {
				return decodedText{text: string(out), charset: res.Charset}
			}
		}
	}
	return decodedText{text: strings.ToValidUTF8(string(data), "\uFFFD"), charset: "unknown", lossy: true}
}

// textRecord builds a one-page record from decoded text. Confidence is 0.98
// for UTF-8 input, 0.95 for a detected charset and 0.6 when bytes were lost.
func textRecord(d decodedText) *Record {
	rec := newRecord()
	rec.RawText = d.text
	rec.Metadata["charset"] = d.charset
	switch {
	case d.lossy:
		rec.Confidence = 0.6
		rec.warn("text is not valid in any detected charset; invalid bytes replaced")
	case d.charset == "UTF-8":
		rec.Confidence = 0.98
	default:
		rec.Confidence = 0.95
	}
	return rec
}

func extractPlainText(_ context.Context, data []byte, _ string) Result {
	if bytes.IndexByte(data, 0) >= 0 && !utf8.Valid(data) {
		return Fail(fmt.Errorf("text: binary content"))
	}
	return OK(textRecord(decodeText(data)))
}

// extractMarkdown keeps the Markdown source as raw text (headings drive
// section splitting downstream) and records the first heading as title.
func extractMarkdown(_ context.Context, data []byte, _ string) Result {
	rec := textRecord(decodeText(data))
	for _, line := range strings.Split(rec.RawText, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if title := strings.TrimSpace(strings.Trim(trimmed, "#")); title != "" {
				rec.Metadata["title"] = title
				break
			}
		}
	}
	return OK(rec)
}

// extractRawText is the last resort for unknown formats: decode whatever is
// there and mark it as low confidence.
func extractRawText(_ context.Context, data []byte, _ string) Result {
	d := decodeText(data)
	rec := textRecord(d)
	rec.Confidence = min(rec.Confidence, 0.4)
	if d.lossy {
		rec.Confidence = 0.2
	}
	return OK(rec)
}

func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if r := []rune(text); len(r) > 200 {
		text = string(r[:200])
	}
	return text
}
