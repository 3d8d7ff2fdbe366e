package metadata

import (
	"slices"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// inferDocumentDate prefers a parseable value under a key mentioning
// "date" (keys visited in lexical order), then the earliest extracted date.
func inferDocumentDate(kv map[string]string, dates []string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		if strings.Contains(strings.ToLower(k), "date") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		t, err := dateparse.ParseIn(strings.TrimSpace(kv[k]), time.UTC)
		if err == nil && t.Year() >= 1900 && t.Year() <= 2100 {
			return t.Format(time.DateOnly)
		}
	}
	if len(dates) > 0 {
		return slices.Min(dates)
	}
	return ""
}

// period returns the earliest and latest ISO dates.
func period(dates []string) (start, end string) {
	if len(dates) == 0 {
		return "", ""
	}
	return slices.Min(dates), slices.Max(dates)
}
