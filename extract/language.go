package extract

import (
	"strings"
	"unicode"
)

// languageSample is how much text DetectLanguage looks at.
const languageSample = 2000

var languageMarkers = []struct {
	code  string
	words map[string]bool
}{
	{"en", set("the", "and", "of", "to", "is", "that", "for", "with", "this", "are", "from", "be")},
	{"es", set("el", "los", "las", "del", "que", "y", "por", "para", "con", "una", "es", "como")},
	{"fr", set("le", "les", "des", "et", "est", "une", "du", "pour", "avec", "dans", "sur", "au")},
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// DetectLanguage scores the start of text against small marker-word lists
// and returns "en", "es", "fr" or "unknown". Ties go to the earlier entry.
func DetectLanguage(text string) string {
	if r := []rune(text); len(r) > languageSample {
		text = string(r[:languageSample])
	}
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	best, bestScore := "unknown", 0
	for _, lang := range languageMarkers {
		score := 0
		for _, t := range tokens {
			if lang.words[t] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = lang.code, score
		}
	}
	return best
}
