package extract

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// extractODT reads content.xml from an OpenDocument Text archive. Headings
// carry their outline level into Markdown; tables are kept as tables.
func extractODT(_ context.Context, data []byte, _ string) Result {
	zr, err := openZip(data)
	if err != nil {
		return Fail(fmt.Errorf("odt: %w", err))
	}
	contentFile := findPart(zr, "content.xml")
	if contentFile == nil {
		return Fail(fmt.Errorf("odt: content.xml not found in archive"))
	}
	content, err := readPart(contentFile)
	if err != nil {
		return Fail(fmt.Errorf("odt: %w", err))
	}

	rec := newRecord()
	if f := findPart(zr, "meta.xml"); f != nil {
		if meta, err := readPart(f); err == nil {
			readODTMeta(meta, rec.Metadata)
		}
	}

	dec := xml.NewDecoder(bytes.NewReader(content))
	var (
		sb           strings.Builder
		current      strings.Builder
		inHeading    bool
		headingLevel int
		inParagraph  bool
		listDepth    int
		tableDepth   int
		table        Table
		row          []string
		cell         strings.Builder
		title        string
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Fail(fmt.Errorf("odt: parse content.xml: %w", err))
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "h":
				inHeading = true
				current.Reset()
				headingLevel = 1
				for _, attr := range t.Attr {
					if attr.Name.Local == "outline-level" {
						if n, err := strconv.Atoi(attr.Value); err == nil && n >= 1 && n <= 6 {
							headingLevel = n
						}
					}
				}
			case "p":
				inParagraph = true
				current.Reset()
			case "list":
				listDepth++
			case "table":
				tableDepth++
				if tableDepth == 1 {
					table = nil
				}
			case "table-row":
				row = nil
			case "table-cell":
				cell.Reset()
			case "tab":
				current.WriteByte('\t')
			case "s":
				current.WriteByte(' ')
			case "line-break":
				current.WriteByte('\n')
			}

		case xml.CharData:
			if inHeading || inParagraph {
				current.Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "h":
				inHeading = false
				text := strings.TrimSpace(current.String())
				if text == "" {
					continue
				}
				if title == "" {
					title = text
				}
				sb.WriteString(strings.Repeat("#", headingLevel) + " " + text + "\n\n")
			case "p":
				inParagraph = false
				text := strings.TrimSpace(current.String())
				if text == "" {
					continue
				}
				switch {
				case tableDepth > 0:
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(text)
				case listDepth > 0:
					sb.WriteString("- " + text + "\n")
				default:
					sb.WriteString(text + "\n\n")
				}
			case "list":
				listDepth--
				if listDepth == 0 {
					sb.WriteByte('\n')
				}
			case "table-cell":
				row = append(row, strings.TrimSpace(cell.String()))
			case "table-row":
				if tableDepth == 1 && len(row) > 0 {
					table = append(table, row)
				}
			case "table":
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
	rec.Confidence = 0.9
	return OK(rec)
}

func readODTMeta(data []byte, meta map[string]string) {
	keys := map[string]string{
		"title":           "title",
		"subject":         "subject",
		"initial-creator": "author",
		"creator":         "last_modified_by",
		"creation-date":   "created",
		"date":            "modified",
		"keyword":         "keywords",
		"description":     "description",
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
				if _, set := meta[current]; !set {
					meta[current] = v
				}
			}
		case xml.EndElement:
			current = ""
		}
	}
}
