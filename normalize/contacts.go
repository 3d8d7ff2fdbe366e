package normalize

import (
	"regexp"
	"slices"
	"strings"
)

var (
	phoneRe = regexp.MustCompile(`(?:\+?\b1[\s.-]?)?(?:\(\d{3}\)|\b\d{3})[\s.-]?\d{3}[\s.-]?\d{4}\b`)
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	urlRe   = regexp.MustCompile(`\bhttps?://[^\s<>"'()\[\]{}]+`)
)

type textMatch struct {
	raw, normalized string
	start, end      int
}

// extractPhones normalises US-style numbers to E.164: ten digits get +1,
// eleven digits starting with 1 get +, anything else gets + as is.
func extractPhones(text string) []textMatch {
	var out []textMatch
	for _, loc := range phoneRe.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, raw)
		var e164 string
		switch {
		case len(digits) == 10:
			e164 = "+1" + digits
		default:
			e164 = "+" + digits
		}
		out = append(out, textMatch{raw: raw, normalized: e164, start: loc[0], end: loc[1]})
	}
	return out
}

func extractEmails(text string) []textMatch {
	var out []textMatch
	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		out = append(out, textMatch{raw: raw, normalized: strings.ToLower(raw), start: loc[0], end: loc[1]})
	}
	return out
}

// extractURLs trims trailing sentence punctuation from each match.
func extractURLs(text string) []textMatch {
	var out []textMatch
	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,;:!?")
		out = append(out, textMatch{raw: raw, normalized: raw, start: loc[0], end: loc[0] + len(raw)})
	}
	return out
}

// uniqueSorted collects the normalized values of ms as a sorted set.
func uniqueSorted(ms []textMatch) []string {
	out := []string{}
	for _, m := range ms {
		if !slices.Contains(out, m.normalized) {
			out = append(out, m.normalized)
		}
	}
	slices.Sort(out)
	return out
}

// uniqueOrdered keeps the first occurrence of each normalized value.
func uniqueOrdered(ms []textMatch) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, m := range ms {
		if !seen[m.normalized] {
			seen[m.normalized] = true
			out = append(out, m.normalized)
		}
	}
	return out
}
