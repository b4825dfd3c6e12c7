// Package text provides text helpers.
package text

import "unicode/utf8"

// Separators of truncated texts.
const (
	SeparatorEllipsis = "..."
)

// CutText cuts a text if it exceeds the specified size in bytes and reports whether it was cut.
// The cut never splits a multibyte character.
func CutText(text string, size int, separator string) (string, bool) {
	if len(text) <= size {
		return text, false
	}

	size -= len(separator)
	if size < 0 {
		size = 0
	}

	for size > 0 && !utf8.RuneStart(text[size]) {
		size--
	}

	return text[:size] + separator, true
}
