package model

import "unicode/utf8"

// Clip truncates s to at most max bytes without splitting a rune, so the
// result is always valid UTF-8.
func Clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
