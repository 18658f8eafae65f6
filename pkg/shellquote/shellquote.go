// Package shellquote renders command lines that can be pasted into bash or zsh.
package shellquote

import (
	"strings"
)

// safe characters never need quoting.
const safe = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_@%+=:,./-"

// Quote returns s unchanged when it only holds safe characters,
// otherwise a double-quoted form with \ " $ ` and control newlines/tabs escaped.
func Quote(s string) string {
	if s == "" {
		return `""`
	}

	if strings.Trim(s, safe) == "" {
		return s
	}

	var b strings.Builder

	b.Grow(len(s) + 2)
	b.WriteByte('"')

	for _, r := range s {
		switch r {
		case '\\', '"', '$', '`':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}

	b.WriteByte('"')

	return b.String()
}

// Join quotes bin and every argument and joins them with spaces.
func Join(bin string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, Quote(bin))

	for _, arg := range args {
		parts = append(parts, Quote(arg))
	}

	return strings.Join(parts, " ")
}
