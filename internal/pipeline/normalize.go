package pipeline

import (
	"strings"
	"unicode"
)

// NormalizeText collapses every whitespace run and trims the result.
// A run containing a line break becomes a single newline, any other run a
// single space. Applying it twice is the same as applying it once.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	pendingSpace, pendingBreak := false, false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if isLineBreak(r) {
				pendingBreak = true
			} else {
				pendingSpace = true
			}
			continue
		}
		if b.Len() > 0 {
			switch {
			case pendingBreak:
				b.WriteByte('\n')
			case pendingSpace:
				b.WriteByte(' ')
			}
		}
		pendingSpace, pendingBreak = false, false
		b.WriteRune(r)
	}

	return b.String()
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\f', '\v', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}
