package util

import (
	"strings"
	"unicode/utf8"
)

// Len returns the number of characters (runes) in s.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Tail returns at most the last n runes of s.
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	total := Len(s)
	if total <= n {
		return s
	}
	skip := total - n
	i := 0
	for pos := range s {
		if i == skip {
			return s[pos:]
		}
		i++
	}
	return ""
}

// Ellipsize truncates s to n runes, ending with "..." when shortened.
func Ellipsize(s string, n int) string {
	if Len(s) <= n {
		return s
	}
	if n <= 3 {
		return Truncate(s, n)
	}
	return Truncate(s, n-3) + "..."
}

// FirstLine returns the first non-empty line of s, trimmed.
func FirstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
