package util

import "strings"

// Excerpt collapses whitespace and cuts s to at most maxRunes runes, preferring
// the last word boundary before the limit.
func Excerpt(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 500
	}
	s = normalizeWhitespace(s)
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	cut := string(runes[:maxRunes])
	if i := strings.LastIndexByte(cut, ' '); i > maxRunes/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
