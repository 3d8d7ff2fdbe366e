package normalize

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	minYear = 1900
	maxYear = 2100
)

var (
	mdyRe = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})\b`)
	ymdRe = regexp.MustCompile(`\b(\d{4})[/.-](\d{1,2})[/.-](\d{1,2})\b`)
	// Month D, YYYY with optional ordinal suffix and comma.
	wordDateRe = regexp.MustCompile(`(?i)\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
)

var monthByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

type dateMatch struct {
	iso   string
	raw   string
	start int
	end   int
}

// extractDates runs the three pattern families independently and keeps
// matches that name a real calendar day between 1900 and 2100.
func extractDates(text string) []dateMatch {
	var out []dateMatch
	add := func(loc []int, y, m, d int) {
		if iso, ok := validDate(y, m, d); ok {
			out = append(out, dateMatch{iso: iso, raw: text[loc[0]:loc[1]], start: loc[0], end: loc[1]})
		}
	}
	for _, loc := range mdyRe.FindAllStringSubmatchIndex(text, -1) {
		add(loc, atoi(text, loc, 3), atoi(text, loc, 1), atoi(text, loc, 2))
	}
	for _, loc := range ymdRe.FindAllStringSubmatchIndex(text, -1) {
		add(loc, atoi(text, loc, 1), atoi(text, loc, 2), atoi(text, loc, 3))
	}
	for _, loc := range wordDateRe.FindAllStringSubmatchIndex(text, -1) {
		name := strings.ToLower(text[loc[2]:loc[3]])
		add(loc, atoi(text, loc, 3), int(monthByPrefix[name[:3]]), atoi(text, loc, 2))
	}
	slices.SortStableFunc(out, func(a, b dateMatch) int { return a.start - b.start })
	return out
}

// uniqueDates returns the distinct ISO dates in ascending order.
func uniqueDates(matches []dateMatch) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, m := range matches {
		if !seen[m.iso] {
			seen[m.iso] = true
			out = append(out, m.iso)
		}
	}
	slices.Sort(out)
	return out
}

func validDate(y, m, d int) (string, bool) {
	if y < minYear || y > maxYear || m < 1 || m > 12 || d < 1 {
		return "", false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(m) || t.Day() != d {
		return "", false
	}
	return t.Format(time.DateOnly), true
}

// atoi parses submatch group g of loc. Groups are digit-only by
// construction.
func atoi(text string, loc []int, g int) int {
	n, _ := strconv.Atoi(text[loc[2*g]:loc[2*g+1]])
	return n
}
