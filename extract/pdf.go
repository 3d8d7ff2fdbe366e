package extract

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// extractPDF parses the document with pdfcpu and reads each page's content
// stream. Pages without a text layer are kept (empty) so numbering matches
// the document.
func (p *Pipeline) extractPDF(ctx context.Context, data []byte, _ string) Result {
	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return Fail(fmt.Errorf("pdfcpu read: %w", err))
	}

	rec := newRecord()
	pdfInfo(pctx, rec.Metadata)

	pages := pctx.PageCount
	if p.cfg.MaxPages > 0 && pages > p.cfg.MaxPages {
		rec.warn(fmt.Sprintf("pdf: %d pages, only the first %d extracted", pages, p.cfg.MaxPages))
		pages = p.cfg.MaxPages
	}

	var all strings.Builder
	totalImages := 0
	for nr := 1; nr <= pages; nr++ {
		if err := ctx.Err(); err != nil {
			return Fail(fmt.Errorf("pdfcpu: %w", err))
		}
		text := extractPageText(pctx, nr)
		images := len(pdfcpu.ImageObjNrs(pctx, nr))
		totalImages += images
		page := Page{Number: nr, Text: text, ImageCount: images}
		if text != "" {
			q := measureQuality(text, 1, images > 0)
			page.Confidence = q.Confidence(0.95)
			if all.Len() > 0 {
				all.WriteString("\n\n")
			}
			all.WriteString(text)
		}
		rec.Pages = append(rec.Pages, page)
	}

	fullText := all.String()
	hasImages := totalImages > 0 || hasImageStreams(pctx)
	if strings.TrimSpace(fullText) == "" && !hasImages {
		return Fail(fmt.Errorf("pdfcpu: no text content found in PDF"))
	}

	rec.RawText = fullText
	rec.Quality = measureQuality(fullText, pages, hasImages)
	if fullText == "" {
		rec.warn("pdf: no text layer, OCR may be required")
		rec.Confidence = 0.2
	} else {
		rec.Confidence = rec.Quality.Confidence(0.95)
		if rec.Quality.NeedsOCR() {
			rec.warn("pdf: text layer looks sparse or garbled, OCR may be required")
		}
	}
	rec.Metadata["page_count"] = fmt.Sprint(pctx.PageCount)
	rec.Metadata["image_count"] = fmt.Sprint(totalImages)
	return OK(rec)
}

// pdfInfo copies the Info dictionary into meta.
func pdfInfo(pctx *model.Context, meta map[string]string) {
	x := pctx.XRefTable
	for k, v := range map[string]string{
		"title":    x.Title,
		"author":   x.Author,
		"subject":  x.Subject,
		"keywords": x.Keywords,
		"creator":  x.Creator,
		"producer": x.Producer,
		"created":  x.CreationDate,
		"modified": x.ModDate,
	} {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
}

// extractPageText extracts text from a single page's content stream.
func extractPageText(pctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return textFromContentStream(data)
}

// hasImageStreams scans the cross-reference table for image XObjects.
func hasImageStreams(pctx *model.Context) bool {
	for _, entry := range pctx.Table {
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, isName := subtype.(types.Name); isName && name == "Image" {
				return true
			}
		}
	}
	return false
}

var (
	streamRe  = regexp.MustCompile(`(?s)stream\r?\n(.*?)\r?\nendstream`)
	pageObjRe = regexp.MustCompile(`/Type\s*/Page\b`)
)

// extractPDFRaw is the fallback for files pdfcpu rejects: it inflates every
// stream it can and reads text operators directly.
func (p *Pipeline) extractPDFRaw(ctx context.Context, data []byte, _ string) Result {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF")) {
		return Fail(fmt.Errorf("pdf-rawscan: missing %%PDF header"))
	}
	var sb strings.Builder
	for _, m := range streamRe.FindAllSubmatch(data, -1) {
		if err := ctx.Err(); err != nil {
			return Fail(fmt.Errorf("pdf-rawscan: %w", err))
		}
		body := m[1]
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			if inflated, err := io.ReadAll(io.LimitReader(zr, maxPartSize)); err == nil && len(inflated) > 0 {
				body = inflated
			}
			zr.Close()
		}
		if text := textFromContentStream(body); text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return Fail(fmt.Errorf("pdf-rawscan: no text operators found"))
	}

	rec := newRecord()
	rec.RawText = text
	pages := max(len(pageObjRe.FindAll(data, -1)), 1)
	rec.Quality = measureQuality(text, pages, bytes.Contains(data, []byte("/Subtype /Image")))
	rec.Confidence = min(0.5, rec.Quality.Confidence(0.5))
	rec.Metadata["page_count"] = fmt.Sprint(pages)
	return OK(rec)
}

// pdfStringRe matches PDF string literals in parentheses.
var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// textFromContentStream reads Tj, TJ, ' and " operators; Td/TD/T* become
// line breaks.
func textFromContentStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) || bytes.HasSuffix(line, []byte(`"`)):
			if bytes.Contains(line, []byte("(")) {
				sb.WriteByte('\n')
				for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
					sb.WriteString(decodePDFString(m[1]))
				}
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
		case bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			sb.WriteByte('\n')
		}
	}
	return cleanPDFText(sb.String())
}

// decodePDFString handles PDF escape sequences including octal.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for k := 0; k < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; k++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

// cleanPDFText collapses runs of spaces, keeps line breaks and drops
// non-printable runes.
func cleanPDFText(text string) string {
	var sb strings.Builder
	prevSpace, prevNL := false, false
	for _, r := range text {
		switch {
		case r == '\n':
			if !prevNL && sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			prevNL, prevSpace = true, true
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			prevSpace = true
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace, prevNL = false, false
		}
	}
	return strings.TrimSpace(sb.String())
}
