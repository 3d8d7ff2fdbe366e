package extract

import "strings"

// Chunk splits text into windows of size runes where consecutive windows
// share overlapRatio×size runes. Whitespace-only windows are dropped. The
// result is deterministic for a given input.
func Chunk(text string, size int, overlapRatio float64) []string {
	chunks := []string{}
	if size <= 0 || strings.TrimSpace(text) == "" {
		return chunks
	}
	overlap := int(float64(size) * overlapRatio)
	step := size - overlap
	if step <= 0 {
		step = size
	}

	runes := []rune(text)
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if c := string(runes[start:end]); strings.TrimSpace(c) != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
