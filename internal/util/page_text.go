package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// CleanPageText flattens one text run of a PDF page into a single line that
// Postgres text columns accept. Whitespace of any kind (form feeds, line
// breaks, no-break spaces) collapses to one space; NUL, other control and
// format characters (soft hyphens, zero-width spaces, BOMs) and invalid UTF-8
// are dropped. The result has no leading or trailing space.
func CleanPageText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == utf8.RuneError && size == 1:
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
