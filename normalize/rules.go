package normalize

import (
	"fmt"
	"strings"
)

// expectedFields maps a document type to field-name fragments its key-value
// pairs should contain.
var expectedFields = map[string][]string{
	"invoice":          {"invoice", "date", "total"},
	"contract":         {"part", "effective", "term"},
	"financial_report": {"period", "revenue"},
	"tax":              {"tax", "year"},
}

// ruleAliases lets classifier labels reuse a rule set.
var ruleAliases = map[string]string{
	"tax_document": "tax",
}

// validate reports each expected field with no matching key. Matching is a
// case-insensitive substring test on the keys.
func validate(docType string, kv map[string]string) []string {
	docType = strings.ToLower(strings.TrimSpace(docType))
	if alias, ok := ruleAliases[docType]; ok {
		docType = alias
	}
	fields, ok := expectedFields[docType]
	if !ok {
		return []string{}
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, strings.ToLower(k))
	}
	out := []string{}
	for _, field := range fields {
		found := false
		for _, k := range keys {
			if strings.Contains(k, field) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, fmt.Sprintf("missing expected field for %s: %s", docType, field))
		}
	}
	return out
}
