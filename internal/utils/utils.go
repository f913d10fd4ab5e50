package utils

import (
	"fmt"
	"strconv"
)

// ShortenString cuts s to l bytes and appends an ellipsis. l == 0 disables shortening.
func ShortenString(s string, l int) string {
	if len(s) > l && l != 0 {
		return fmt.Sprintf("%s...", s[:l])
	}
	return s
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n < 0 {
		return ""
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

// StripControlChars replaces C0 and C1 control characters (U+0000-U+001F and
// U+007F-U+009F) with a single space each.
func StripControlChars(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r <= 0x1f || (r >= 0x7f && r <= 0x9f) {
			out = append(out, ' ')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// Preview truncates s to n runes and strips control characters.
func Preview(s string, n int) string {
	return StripControlChars(Truncate(s, n))
}

// FirstNumber returns the first run of ASCII digits in s as an int.
func FirstNumber(s string) (int, bool) {
	start := -1
	for i, r := range s {
		isDigit := r >= '0' && r <= '9'
		if isDigit && start == -1 {
			start = i
		}
		if !isDigit && start != -1 {
			return atoi(s[start:i])
		}
	}
	if start == -1 {
		return 0, false
	}
	return atoi(s[start:])
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
