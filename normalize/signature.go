package normalize

import (
	"encoding/hex"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

// Signature is the BLAKE2b-256 of the sorted set of lowercase alphabetic
// tokens of at least three letters, joined by single spaces. Text with no
// such token has an empty signature.
func Signature(text string) string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	set := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if utf8.RuneCountInString(t) >= 3 {
			set = append(set, t)
		}
	}
	if len(set) == 0 {
		return ""
	}
	slices.Sort(set)
	set = slices.Compact(set)
	sum := blake2b.Sum256([]byte(strings.Join(set, " ")))
	return hex.EncodeToString(sum[:])
}
