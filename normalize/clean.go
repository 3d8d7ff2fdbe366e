package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	repeatedBangRe  = regexp.MustCompile(`([!?,;:])[!?,;:]*([!?,;:])`)
	repeatedDotRe   = regexp.MustCompile(`\.{4,}`)
	repeatedDashRe  = regexp.MustCompile(`([-_=*~])[-_=*~]{4,}`)
	horizontalWSRe  = regexp.MustCompile(`[ \t\f\v\x{00A0}]+`)
	manyNewlinesRe  = regexp.MustCompile(`\n{3,}`)
	boilerplateLine = regexp.MustCompile(`(?i)^\s*(` +
		`(copyright\s*)?(©|\(c\))\s*\d{4}.*` +
		`|copyright\b.*` +
		`|.*\ball rights reserved\b.*` +
		`|page\s+\d+(\s*(of|/)\s*\d+)?` +
		`|-?\s*\d+\s*-?` +
		`|(strictly\s+)?(private\s+and\s+)?confidential\.?` +
		`|for\s+internal\s+use\s+only\.?|internal\s+use\s+only\.?` +
		`|printed\s+on\b.*` +
		`)\s*$`)
)

// CleanText applies NFKC, strips control and replacement characters,
// collapses repeated punctuation and whitespace, and drops boilerplate lines
// such as copyright notices and page footers. Line structure is kept so
// Markdown headings survive for section splitting.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == unicode.ReplacementChar, r == '\u200b', r == '\ufeff':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, text)

	text = repeatedDotRe.ReplaceAllString(text, "...")
	text = repeatedBangRe.ReplaceAllStringFunc(text, func(s string) string { return s[:1] })
	text = repeatedDashRe.ReplaceAllString(text, "$1$1$1")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(horizontalWSRe.ReplaceAllString(line, " "))
		if line != "" && boilerplateLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.Join(kept, "\n")
	text = manyNewlinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
