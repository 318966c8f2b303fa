package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CollapseWhitespace trims value and folds every whitespace run into a single space.
func CollapseWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// TruncateRunes shortens value to at most limit runes, trimming any trailing
// space left at the cut. A non-positive limit returns value unchanged.
func TruncateRunes(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace)
}

// SplitSentences splits text after each '.', '!' or '?' that is followed by
// whitespace. Pieces are trimmed; empty pieces are skipped.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if piece := strings.TrimSpace(string(runes[start : i+1])); piece != "" {
			out = append(out, piece)
		}
		start = i + 1
	}
	if start < len(runes) {
		if piece := strings.TrimSpace(string(runes[start:])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// FirstSentence returns the first sentence of text with whitespace collapsed.
func FirstSentence(text string) string {
	sentences := SplitSentences(CollapseWhitespace(text))
	if len(sentences) == 0 {
		return ""
	}
	return sentences[0]
}
