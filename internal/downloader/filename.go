package downloader

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxFilenameBytes = 200
	fallbackFilename = "video"
)

// SanitizeFilename keeps letters, numbers, spaces, '-' and '_' and turns every
// other rune into '_'. The result is trimmed of spaces, capped at 200 bytes on a rune
// boundary and never empty. Applying it twice changes nothing.
func SanitizeFilename(title string) string {
	var b strings.Builder

	b.Grow(len(title))

	for _, r := range title {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := strings.Trim(truncate(b.String(), maxFilenameBytes), " ")
	if name == "" {
		return fallbackFilename
	}

	return name
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
