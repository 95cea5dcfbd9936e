package wordtools

import "unicode/utf8"

// FirstRune returns the first character of s. ok is false for the empty
// string.
func FirstRune(s string) (r rune, ok bool) {
	if s == "" {
		return 0, false
	}
	r, _ = utf8.DecodeRuneInString(s)
	return r, true
}
