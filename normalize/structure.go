package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	maxKeyLen   = 40
	maxValueLen = 200
)

var (
	kvLineRe  = regexp.MustCompile(`^\s*([\p{L}][\p{L}\p{N} _./#&()'-]{1,39}?)\s*(?::|=|\|)\s*(\S.*?)\s*$`)
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
)

// extractKV finds "Key: Value", "Key = Value" and "Key | Value" lines. Keys
// are title-cased; values are cut at 200 characters.
func extractKV(text string) map[string]string {
	title := cases.Title(language.English)
	out := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		m := kvLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, value := strings.TrimSpace(m[1]), m[2]
		if utf8.RuneCountInString(key) < 2 || strings.HasPrefix(value, "//") {
			continue
		}
		if r := []rune(value); len(r) > maxValueLen {
			value = strings.TrimSpace(string(r[:maxValueLen]))
		}
		out[title.String(key)] = value
	}
	return out
}

// splitSections cuts text at Markdown headings. Text before the first
// heading forms an implicit level-1 "Introduction", kept only when non-empty.
func splitSections(text string) []Section {
	sections := []Section{}
	cur := Section{Title: "Introduction", Level: 1}
	intro := true
	var body []string
	emit := func() {
		cur.Content = strings.TrimSpace(strings.Join(body, "\n"))
		cur.WordCount = len(strings.Fields(cur.Content))
		if !intro || cur.Content != "" {
			sections = append(sections, cur)
		}
	}
	for _, line := range strings.Split(text, "\n") {
		m := headingRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			body = append(body, line)
			continue
		}
		emit()
		intro = false
		cur = Section{Title: m[2], Level: len(m[1])}
		body = nil
	}
	emit()
	return sections
}
