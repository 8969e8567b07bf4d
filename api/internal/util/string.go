package util

import (
	"strings"
	"unicode/utf8"
)

// Truncate обрезает строку до n байт, не разрывая руну, и добавляет "...".
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func TruncateBytes(b []byte, n int) string {
	return Truncate(string(b), n)
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
