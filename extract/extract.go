// Package extract turns document bytes into raw text, pages, tables and
// embedding chunks.
//
// Supported formats:
//   - .pdf          pdfcpu content streams, fallback raw stream scan
//   - .docx .xlsx .pptx  Office Open XML parts (archive/zip)
//   - .odt          OpenDocument content.xml
//   - .html         CSS selectors, sanitised Markdown, readability, text density, text walk
//   - .xml .json .csv .tsv .txt .md .rtf
//   - images        dimensions, plus text when an OCR engine is configured
//
// Every format has an ordered chain of strategies; the first that succeeds
// wins. Extract never panics and never returns nil.
//
// Usage:
//
//	pipe := extract.New(extract.Config{})
//	rec := pipe.Extract(ctx, data, fileID, "report.pdf", "application/pdf")
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/docpipeline/sniff"
)

// panicConfidenceCap bounds confidence after any caught crash.
const panicConfidenceCap = 0.5

// Pipeline is the extract stage. Safe for concurrent use.
type Pipeline struct {
	cfg      Config
	logger   *slog.Logger
	registry *Registry
}

// New returns a Pipeline with every built-in format registered.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	p := &Pipeline{cfg: cfg, logger: cfg.Logger, registry: NewRegistry()}
	p.registerBuiltins()
	return p
}

// Registry exposes the strategy chains, so callers can add or replace one.
func (p *Pipeline) Registry() *Registry { return p.registry }

func (p *Pipeline) registerBuiltins() {
	text := Strategy{"text", ExtractorFunc(extractPlainText)}
	r := p.registry
	r.Register(FormatPDF,
		Strategy{"pdfcpu", ExtractorFunc(p.extractPDF)},
		Strategy{"pdf-rawscan", ExtractorFunc(p.extractPDFRaw)})
	r.Register(FormatDocx, Strategy{"docx-xml", ExtractorFunc(extractDocx)})
	r.Register(FormatXlsx, Strategy{"xlsx-xml", ExtractorFunc(p.extractXlsx)})
	r.Register(FormatPptx, Strategy{"pptx-xml", ExtractorFunc(p.extractPptx)})
	r.Register(FormatODT, Strategy{"odt-xml", ExtractorFunc(extractODT)})
	var htmlChain []Strategy
	if len(p.cfg.ContentSelectors) > 0 {
		htmlChain = append(htmlChain, Strategy{"html-selectors", selectorExtractor(p.cfg.ContentSelectors)})
	}
	htmlChain = append(htmlChain,
		Strategy{"html-markdown", ExtractorFunc(extractHTMLMarkdown)},
		Strategy{"readability", ExtractorFunc(extractHTMLReadability)},
		Strategy{"html-density", ExtractorFunc(extractHTMLDensity)},
		Strategy{"html-textwalk", ExtractorFunc(extractHTMLText)})
	r.Register(FormatHTML, htmlChain...)
	r.Register(FormatXML, Strategy{"xml", ExtractorFunc(extractXML)}, text)
	r.Register(FormatJSON, Strategy{"json", ExtractorFunc(extractJSON)}, text)
	r.Register(FormatCSV, Strategy{"csv", delimitedExtractor(',')}, text)
	r.Register(FormatTSV, Strategy{"tsv", delimitedExtractor('\t')}, text)
	r.Register(FormatTXT, text)
	r.Register(FormatMD, Strategy{"markdown", ExtractorFunc(extractMarkdown)})
	r.Register(FormatRTF, Strategy{"rtf", ExtractorFunc(extractRTF)})
	r.Register(FormatImage, Strategy{"image", ExtractorFunc(p.extractImage)})
}

// SupportedExtensions lists every extension with a dedicated extractor.
func SupportedExtensions() []string {
	out := make([]string, 0, len(formatByExt))
	for ext := range formatByExt {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// Resolve picks the format for filename, falling back to the MIME hint.
// ok is false when neither identifies a registered format; docType is then
// the stripped extension (or "unknown").
func Resolve(filename, mimeHint string) (format Format, docType string, ok bool) {
	ext := sniff.Ext(filename)
	if f, found := formatByExt[ext]; found {
		return f, documentType(f, ext), true
	}
	if hinted := sniff.ExtensionForMIME(mimeHint); hinted != "" {
		if f, found := formatByExt[hinted]; found {
			return f, documentType(f, hinted), true
		}
	}
	if ext == "" {
		ext = "unknown"
	}
	return "", ext, false
}

func documentType(f Format, ext string) string {
	switch f {
	case FormatImage:
		return ext
	}
	return string(f)
}

// Extract runs the format's strategy chain over data. It always returns a
// record; on total failure Success is false and content is empty.
func (p *Pipeline) Extract(ctx context.Context, data []byte, fileID, filename, mimeHint string) (rec *Record) {
	format, docType, known := Resolve(filename, mimeHint)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("extract: crash", "file_id", fileID, "panic", r)
			rec = failedRecord(fileID, filename, docType,
				[]error{&PanicError{Strategy: "extract", Value: r, Stack: string(debug.Stack())}})
		}
	}()

	chain := p.registry.Chain(format)
	if !known || len(chain) == 0 {
		chain = []Strategy{{"raw-text", ExtractorFunc(extractRawText)}}
	}

	var failures []error
	for _, s := range chain {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", s.Name, err))
			break
		}
		res := s.run(ctx, data, filename)
		if res.Err != nil {
			p.logger.Debug("extract: strategy failed", "file_id", fileID, "strategy", s.Name, "error", res.Err)
			failures = append(failures, res.Err)
			continue
		}
		rec = res.Record
		if rec.Method == "" {
			rec.Method = s.Name
		}
		break
	}

	if rec == nil {
		p.logger.Warn("extract: all strategies failed", "file_id", fileID, "format", format, "attempts", len(failures))
		return failedRecord(fileID, filename, docType, failures)
	}

	rec.FileID = fileID
	rec.Filename = filename
	rec.DocumentType = docType
	if !known {
		rec.warn(fmt.Sprintf("no extractor for %q, decoded as raw text", docType))
	}
	for _, err := range failures {
		rec.warn(fmt.Sprintf("fallback to %s after failure: %v", rec.Method, err))
		var pe *PanicError
		if errors.As(err, &pe) {
			rec.Metadata["stack"] = pe.Stack
			rec.Confidence = min(rec.Confidence, panicConfidenceCap)
		}
	}
	p.finalize(rec)
	return rec
}

// finalize derives counts, language and chunks from the record's text and
// guarantees at least one page on success.
func (p *Pipeline) finalize(rec *Record) {
	rec.Success = true
	rec.RawText = cleanRawText(rec.RawText)
	if len(rec.Pages) == 0 {
		rec.Pages = []Page{{Number: 1, Text: rec.RawText, Tables: rec.Tables, Confidence: rec.Confidence}}
	}
	if rec.Tables == nil {
		rec.Tables = []Table{}
	}
	rec.PageCount = len(rec.Pages)
	rec.WordCount = len(strings.Fields(rec.RawText))
	rec.CharCount = utf8.RuneCountInString(rec.RawText)
	rec.Language = DetectLanguage(rec.RawText)
	rec.Chunks = Chunk(rec.RawText, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	rec.Confidence = clamp01(rec.Confidence)
}

func failedRecord(fileID, filename, docType string, failures []error) *Record {
	rec := newRecord()
	rec.FileID = fileID
	rec.Filename = filename
	rec.DocumentType = docType
	rec.Method = "none"
	rec.Language = "unknown"
	rec.Pages = []Page{}
	rec.Tables = []Table{}
	rec.Chunks = []string{}
	for _, err := range failures {
		rec.Errors = append(rec.Errors, err.Error())
		var pe *PanicError
		if errors.As(err, &pe) {
			rec.Metadata["stack"] = pe.Stack
		}
	}
	if len(rec.Errors) == 0 {
		rec.Errors = append(rec.Errors, "extraction failed")
	}
	return rec
}

// cleanRawText normalises line endings and trims trailing spaces per line.
func cleanRawText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
