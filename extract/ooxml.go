package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// maxPartSize bounds a single decompressed archive member.
const maxPartSize = 64 << 20

func openZip(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	return zr, nil
}

func findPart(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func readPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxPartSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if len(data) > maxPartSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", f.Name, maxPartSize)
	}
	return data, nil
}

// numberedParts returns members matching re (with one numeric group)
// ordered by that number.
func numberedParts(zr *zip.Reader, re *regexp.Regexp) []*zip.File {
	type numbered struct {
		n int
		f *zip.File
	}
	var parts []numbered
	for _, f := range zr.File {
		if m := re.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			parts = append(parts, numbered{n, f})
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })
	out := make([]*zip.File, len(parts))
	for i, p := range parts {
		out[i] = p.f
	}
	return out
}

// readCoreProps maps docProps/core.xml (Dublin Core) into metadata.
func readCoreProps(zr *zip.Reader, meta map[string]string) {
	f := findPart(zr, "docProps/core.xml")
	if f == nil {
		return
	}
	data, err := readPart(f)
	if err != nil {
		return
	}
	keys := map[string]string{
		"title":          "title",
		"subject":        "subject",
		"creator":        "author",
		"lastModifiedBy": "last_modified_by",
		"created":        "created",
		"modified":       "modified",
		"keywords":       "keywords",
		"description":    "description",
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var current string
	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = keys[t.Name.Local]
		case xml.CharData:
			if v := strings.TrimSpace(string(t)); current != "" && v != "" {
				meta[current] = v
			}
		case xml.EndElement:
			current = ""
		}
	}
}

// extractDocx reads word/document.xml: heading-styled paragraphs become
// Markdown headings and w:tbl elements become tables.
func extractDocx(_ context.Context, data []byte, _ string) Result {
	zr, err := openZip(data)
	if err != nil {
		return Fail(fmt.Errorf("docx: %w", err))
	}
	docFile := findPart(zr, "word/document.xml")
	if docFile == nil {
		return Fail(fmt.Errorf("docx: word/document.xml not found in archive"))
	}
	body, err := readPart(docFile)
	if err != nil {
		return Fail(fmt.Errorf("docx: %w", err))
	}

	rec := newRecord()
	readCoreProps(zr, rec.Metadata)

	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		sb             strings.Builder
		para           strings.Builder
		paragraphStyle string
		inParagraph    bool
		inText         bool
		tableDepth     int
		table          Table
		row            []string
		cell           strings.Builder
		title          string
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Fail(fmt.Errorf("docx: parse document.xml: %w", err))
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
				if tableDepth == 1 {
					table = nil
				}
			case "tr":
				row = nil
			case "tc":
				cell.Reset()
			case "p":
				inParagraph = true
				para.Reset()
				paragraphStyle = ""
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						paragraphStyle = attr.Value
					}
				}
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				para.WriteByte('\n')
			}

		case xml.CharData:
			if inParagraph && inText {
				para.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				inParagraph = false
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if tableDepth > 0 {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(text)
					continue
				}
				if level := docxHeadingLevel(paragraphStyle); level > 0 {
					if title == "" {
						title = text
					}
					sb.WriteString(strings.Repeat("#", level) + " " + text + "\n\n")
				} else {
					sb.WriteString(text + "\n\n")
				}
			case "tc":
				row = append(row, strings.TrimSpace(cell.String()))
			case "tr":
				if tableDepth == 1 && len(row) > 0 {
					table = append(table, row)
				}
			case "tbl":
				tableDepth--
				if tableDepth == 0 && len(table) > 0 {
					rec.Tables = append(rec.Tables, table)
					writeTable(&sb, table)
					harvestKV(table, rec.KeyValuePairs)
				}
			}
		}
	}

	if title != "" && rec.Metadata["title"] == "" {
		rec.Metadata["title"] = title
	}
	rec.RawText = sb.String()
	if strings.TrimSpace(rec.RawText) == "" && len(rec.Tables) == 0 {
		rec.warn("docx: document body is empty")
	}
	rec.Confidence = 0.9
	return OK(rec)
}

// docxHeadingLevel extracts the heading level from a paragraph style name.
// e.g. "Heading1" → 1, "Title" → 1, "Subtitle" → 2.
func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)
	switch lower {
	case "title":
		return 1
	case "subtitle":
		return 2
	}
	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := strings.TrimSpace(lower[len(prefix):])
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

func writeTable(sb *strings.Builder, t Table) {
	for _, row := range t {
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
}

// harvestKV treats two-cell rows with a non-empty first cell as key/value.
func harvestKV(t Table, kv map[string]string) {
	for _, row := range t {
		if len(row) == 2 && row[0] != "" && row[1] != "" && len(kv) < maxKV {
			kv[row[0]] = row[1]
		}
	}
}

var (
	sheetPartRe = regexp.MustCompile(`^xl/worksheets/sheet(\d+)\.xml$`)
	slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// extractXlsx yields one page and one table per worksheet.
func (p *Pipeline) extractXlsx(_ context.Context, data []byte, _ string) Result {
	zr, err := openZip(data)
	if err != nil {
		return Fail(fmt.Errorf("xlsx: %w", err))
	}
	sheets := numberedParts(zr, sheetPartRe)
	if len(sheets) == 0 {
		return Fail(fmt.Errorf("xlsx: no worksheets in archive"))
	}
	shared, err := readSharedStrings(zr)
	if err != nil {
		return Fail(fmt.Errorf("xlsx: %w", err))
	}
	names := readSheetNames(zr)

	rec := newRecord()
	readCoreProps(zr, rec.Metadata)
	var all strings.Builder
	for i, f := range sheets {
		if p.cfg.MaxPages > 0 && i >= p.cfg.MaxPages {
			rec.warn(fmt.Sprintf("xlsx: stopped after %d sheets", p.cfg.MaxPages))
			break
		}
		raw, err := readPart(f)
		if err != nil {
			return Fail(fmt.Errorf("xlsx: %w", err))
		}
		table, err := parseSheet(raw, shared)
		if err != nil {
			return Fail(fmt.Errorf("xlsx: %s: %w", f.Name, err))
		}

		var sb strings.Builder
		if i < len(names) {
			sb.WriteString("## " + names[i] + "\n\n")
		}
		writeTable(&sb, table)
		harvestKV(table, rec.KeyValuePairs)

		page := Page{Number: i + 1, Text: strings.TrimSpace(sb.String()), Confidence: 0.9}
		if len(table) > 0 {
			page.Tables = []Table{table}
			rec.Tables = append(rec.Tables, table)
		}
		rec.Pages = append(rec.Pages, page)
		all.WriteString(sb.String())
	}
	rec.RawText = all.String()
	rec.Metadata["sheet_count"] = strconv.Itoa(len(sheets))
	rec.Confidence = 0.9
	return OK(rec)
}

func readSharedStrings(zr *zip.Reader) ([]string, error) {
	f := findPart(zr, "xl/sharedStrings.xml")
	if f == nil {
		return nil, nil
	}
	data, err := readPart(f)
	if err != nil {
		return nil, err
	}
	var out []string
	var cur strings.Builder
	inT := false
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse sharedStrings.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				cur.Reset()
			case "t":
				inT = true
			}
		case xml.CharData:
			if inT {
				cur.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "si":
				out = append(out, cur.String())
			}
		}
	}
}

func readSheetNames(zr *zip.Reader) []string {
	f := findPart(zr, "xl/workbook.xml")
	if f == nil {
		return nil
	}
	data, err := readPart(f)
	if err != nil {
		return nil
	}
	var names []string
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return names
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "sheet" {
			for _, a := range se.Attr {
				if a.Name.Local == "name" {
					names = append(names, a.Value)
				}
			}
		}
	}
}

// parseSheet returns the sheet's rows with cells placed by their column
// reference, trailing empty rows dropped.
func parseSheet(data []byte, shared []string) (Table, error) {
	var (
		table    Table
		row      []string
		cellRef  string
		cellType string
		value    strings.Builder
		inValue  bool
	)
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				row = nil
			case "c":
				cellRef, cellType = "", ""
				value.Reset()
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "r":
						cellRef = a.Value
					case "t":
						cellType = a.Value
					}
				}
			case "v", "t":
				inValue = true
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "c":
				v := value.String()
				switch cellType {
				case "s":
					if idx, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && idx >= 0 && idx < len(shared) {
						v = shared[idx]
					}
				case "b":
					if v == "1" {
						v = "TRUE"
					} else {
						v = "FALSE"
					}
				}
				col := columnIndex(cellRef)
				if col < 0 {
					col = len(row)
				}
				for len(row) <= col {
					row = append(row, "")
				}
				row[col] = strings.TrimSpace(v)
			case "row":
				if len(row) > 0 {
					table = append(table, row)
				}
			}
		}
	}
	return table, nil
}

// columnIndex converts "C7" to 2. Returns -1 when ref has no letters.
func columnIndex(ref string) int {
	col := 0
	n := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		col = col*26 + int(r-'A'+1)
		n++
	}
	if n == 0 || col > 16384 {
		return -1
	}
	return col - 1
}

// extractPptx yields one page per slide from its a:t text runs.
func (p *Pipeline) extractPptx(_ context.Context, data []byte, _ string) Result {
	zr, err := openZip(data)
	if err != nil {
		return Fail(fmt.Errorf("pptx: %w", err))
	}
	slides := numberedParts(zr, slidePartRe)
	if len(slides) == 0 {
		return Fail(fmt.Errorf("pptx: no slides in archive"))
	}

	rec := newRecord()
	readCoreProps(zr, rec.Metadata)
	var all strings.Builder
	for i, f := range slides {
		if p.cfg.MaxPages > 0 && i >= p.cfg.MaxPages {
			rec.warn(fmt.Sprintf("pptx: stopped after %d slides", p.cfg.MaxPages))
			break
		}
		raw, err := readPart(f)
		if err != nil {
			return Fail(fmt.Errorf("pptx: %w", err))
		}
		text, images, err := slideText(raw)
		if err != nil {
			return Fail(fmt.Errorf("pptx: %s: %w", f.Name, err))
		}
		rec.Pages = append(rec.Pages, Page{Number: i + 1, Text: text, ImageCount: images, Confidence: 0.9})
		if text != "" {
			all.WriteString(text)
			all.WriteString("\n\n")
		}
	}
	rec.RawText = all.String()
	rec.Metadata["slide_count"] = strconv.Itoa(len(slides))
	rec.Confidence = 0.9
	return OK(rec)
}

func slideText(data []byte) (string, int, error) {
	var (
		sb     strings.Builder
		para   strings.Builder
		inT    bool
		images int
	)
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "p":
				para.Reset()
			case "pic":
				images++
			}
		case xml.CharData:
			if inT {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if line := strings.TrimSpace(para.String()); line != "" {
					sb.WriteString(line)
					sb.WriteByte('\n')
				}
			}
		}
	}
	return strings.TrimSpace(sb.String()), images, nil
}
