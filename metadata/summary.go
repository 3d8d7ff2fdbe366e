package metadata

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/docpipeline/normalize"
)

const (
	maxSummary       = 800
	minFirstSentence = 20
	summaryDates     = 3
	summaryAmounts   = 3
	summaryOrgs      = 3
	summaryPeople    = 2
)

// highlightKeys are the key-value pairs worth quoting in a summary.
var highlightKeys = []string{"title", "subject", "from", "to", "vendor", "client", "total", "amount"}

// buildSummary assembles a short paragraph from the classification, dates,
// largest amounts, named organisations and people, highlighted key-value
// pairs and the first sentence of the text, cut to 800 characters.
func buildSummary(docType string, in Input, entities map[string][]string) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Document type: %s.", strings.ReplaceAll(docType, "_", " ")))

	if len(in.Dates) > 0 {
		parts = append(parts, "Key dates: "+strings.Join(in.Dates[:min(summaryDates, len(in.Dates))], ", ")+".")
	}
	if len(in.MonetaryValues) > 0 {
		amounts := slices.Clone(in.MonetaryValues)
		slices.SortStableFunc(amounts, func(a, b normalize.Money) int {
			switch {
			case a.Amount > b.Amount:
				return -1
			case a.Amount < b.Amount:
				return 1
			}
			return 0
		})
		var fs []string
		for _, m := range amounts[:min(summaryAmounts, len(amounts))] {
			fs = append(fs, m.Formatted)
		}
		parts = append(parts, "Amounts: "+strings.Join(fs, ", ")+".")
	}
	if orgs := entities["ORG"]; len(orgs) > 0 {
		parts = append(parts, "Organizations: "+strings.Join(orgs[:min(summaryOrgs, len(orgs))], ", ")+".")
	}
	if people := entities["PERSON"]; len(people) > 0 {
		parts = append(parts, "People: "+strings.Join(people[:min(summaryPeople, len(people))], ", ")+".")
	}

	var highlights []string
	for _, want := range highlightKeys {
		for _, k := range sortedKeys(in.KeyValuePairs) {
			if strings.EqualFold(k, want) {
				highlights = append(highlights, k+": "+in.KeyValuePairs[k])
				break
			}
		}
	}
	if len(highlights) > 0 {
		parts = append(parts, strings.Join(highlights, "; ")+".")
	}
	if s := firstSentence(in.CleanText); utf8.RuneCountInString(s) > minFirstSentence {
		parts = append(parts, s)
	}

	summary := strings.Join(parts, " ")
	if r := []rune(summary); len(r) > maxSummary {
		summary = string(r[:maxSummary])
	}
	return summary
}

// firstSentence returns text up to the first sentence end or line break,
// skipping Markdown heading lines.
func firstSentence(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for i := 0; i < len(line); i++ {
			if strings.IndexByte(".!?", line[i]) >= 0 && (i+1 == len(line) || line[i+1] == ' ') {
				return line[:i+1]
			}
		}
		return line
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
