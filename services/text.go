package services

import "unicode/utf8"

// TruncationMarker is appended to text cut at the length cap.
const TruncationMarker = "... [truncated]"

// Truncate keeps the first max characters of s and appends TruncationMarker
// when anything was dropped. max <= 0 disables the cap.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return truncateRunes(s, max) + TruncationMarker
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// preview shortens s for log lines.
func preview(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return truncateRunes(s, max-3) + "..."
}
