package metadata

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxKeywords = 20
	maxTopics   = 10
)

var stopWords = func() map[string]bool {
	m := map[string]bool{}
	for _, w := range strings.Fields(`
		the and for are but not you all any can had her was one our out day get has him his how
		man new now old see two way who boy did its let put say she too use that with have this
		will your from they know want been good much some time very when come here just like long
		make many more only over such take than them well were what where which while would there
		their these those then into also been being both each few most other same should could
		about above after again against before below between during under until upon within without
		may might must shall per via yes etc les des une est pour dans avec sur par qui que los las
		del por para con una como`) {
		m[w] = true
	}
	return m
}()

// words returns lowercase alphabetic tokens of at least three letters that
// are not stop words, in text order.
func words(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	out := tokens[:0]
	for _, t := range tokens {
		if utf8.RuneCountInString(t) >= 3 && !stopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

// topN ranks terms by frequency, ties alphabetically.
func topN(counts map[string]int, n int) []string {
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	slices.SortFunc(terms, func(a, b string) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return strings.Compare(a, b)
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

// Keywords returns the 20 most frequent content words.
func Keywords(text string) []string {
	counts := map[string]int{}
	for _, w := range words(text) {
		counts[w]++
	}
	return topN(counts, maxKeywords)
}

// Topics returns the 10 most frequent adjacent content-word pairs.
func Topics(text string) []string {
	ws := words(text)
	counts := map[string]int{}
	for i := 0; i+1 < len(ws); i++ {
		counts[ws[i]+" "+ws[i+1]]++
	}
	return topN(counts, maxTopics)
}
