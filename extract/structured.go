package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// maxKV bounds key-value pairs harvested from structured formats.
const maxKV = 500

// extractJSON flattens scalar leaves to dotted keys. The raw text is one
// "key: value" line per leaf so downstream entity extraction sees them.
func extractJSON(_ context.Context, data []byte, _ string) Result {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Fail(fmt.Errorf("json: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Fail(fmt.Errorf("json: trailing data after top-level value"))
	}

	flat := map[string]string{}
	flattenJSON("", v, flat)

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rec := newRecord()
	var sb strings.Builder
	for i, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, flat[k])
		if i < maxKV {
			rec.KeyValuePairs[k] = flat[k]
		}
	}
	rec.RawText = sb.String()
	rec.Metadata["json_leaves"] = strconv.Itoa(len(flat))
	rec.Confidence = 0.98
	return OK(rec)
}

func flattenJSON(prefix string, v any, out map[string]string) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenJSON(join(k), child, out)
		}
	case []any:
		for i, child := range t {
			flattenJSON(join(strconv.Itoa(i)), child, out)
		}
	case nil:
		if prefix != "" {
			out[prefix] = "null"
		}
	default:
		key := prefix
		if key == "" {
			key = "value"
		}
		out[key] = fmt.Sprint(t)
	}
}

// extractXML collects character data; elements holding only text become
// key-value pairs named by their local name (first occurrence wins).
func extractXML(_ context.Context, data []byte, _ string) Result {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = xmlCharsetReader

	rec := newRecord()
	var sb strings.Builder
	type frame struct {
		name     string
		text     strings.Builder
		children int
	}
	var stack []*frame
	elements := 0

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Fail(fmt.Errorf("xml: %w", err))
		}
		switch t := tok.(type) {
		case xml.StartElement:
			elements++
			if len(stack) > 0 {
				stack[len(stack)-1].children++
			}
			stack = append(stack, &frame{name: t.Name.Local})
			if elements == 1 {
				rec.Metadata["root_element"] = t.Name.Local
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			if len(stack) > 0 {
				stack[len(stack)-1].text.WriteString(text)
			}
			sb.WriteString(text)
			sb.WriteByte('\n')
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if f.children == 0 && f.text.Len() > 0 && len(rec.KeyValuePairs) < maxKV {
				if _, seen := rec.KeyValuePairs[f.name]; !seen {
					rec.KeyValuePairs[f.name] = f.text.String()
				}
			}
		}
	}
	if elements == 0 {
		return Fail(fmt.Errorf("xml: no elements"))
	}
	rec.RawText = sb.String()
	rec.Metadata["element_count"] = strconv.Itoa(elements)
	rec.Confidence = 0.96
	return OK(rec)
}

// xmlCharsetReader lets encoding/xml read non-UTF-8 declared encodings.
func xmlCharsetReader(label string, input io.Reader) (io.Reader, error) {
	return charsetReader(label, input)
}

// delimitedExtractor parses CSV or TSV into one table. The first row is
// treated as the header; two-column files also yield key-value pairs.
func delimitedExtractor(sep rune) ExtractorFunc {
	return func(_ context.Context, data []byte, _ string) Result {
		d := decodeText(data)
		r := csv.NewReader(strings.NewReader(d.text))
		r.Comma = sep
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		r.TrimLeadingSpace = true

		rows, err := r.ReadAll()
		if err != nil {
			return Fail(fmt.Errorf("delimited: %w", err))
		}
		if len(rows) == 0 {
			return Fail(fmt.Errorf("delimited: no rows"))
		}

		rec := textRecord(d)
		table := Table(rows)
		rec.Tables = []Table{table}

		var sb strings.Builder
		cols := 0
		for _, row := range rows {
			cols = max(cols, len(row))
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteByte('\n')
			if len(row) == 2 && row[0] != "" && len(rec.KeyValuePairs) < maxKV {
				rec.KeyValuePairs[row[0]] = row[1]
			}
		}
		rec.RawText = sb.String()
		rec.Metadata["rows"] = strconv.Itoa(len(rows))
		rec.Metadata["columns"] = strconv.Itoa(cols)
		rec.Metadata["header"] = strings.Join(rows[0], ",")
		rec.Confidence = max(rec.Confidence-0.01, 0.5)
		return OK(rec)
	}
}
