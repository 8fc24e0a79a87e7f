package utils

import (
	"regexp"
	"strings"
)

var space = regexp.MustCompile(`\s+`)

// CleanText replaces non-breaking spaces, collapses runs of whitespace and
// trims the result.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = space.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// OrDefault returns the cleaned text, or def when nothing is left.
func OrDefault(text, def string) string {
	if c := CleanText(text); c != "" {
		return c
	}
	return def
}

// LastNumericSegment returns the last path segment of a URL that is made of
// digits only, or "" if there is none.
func LastNumericSegment(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	segments := strings.Split(strings.Trim(rawURL, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if isDigits(segments[i]) {
			return segments[i]
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
