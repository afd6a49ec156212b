package crawler

import (
	"strings"
	"time"
	"unicode/utf8"
)

// dateLayouts are tried in order; the first successful parse wins. Single
// digit month/day layouts also accept zero-padded input.
var dateLayouts = []string{
	"2006年1月2日",
	"2006-1-2",
	"2006/1/2",
	"2006.1.2",
}

// ParseDate parses raw using the recognized portal date layouts.
func ParseDate(raw string) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeDate renders raw as YYYY-MM-DD when it matches a recognized layout
// and returns the trimmed input otherwise.
func NormalizeDate(raw string) string {
	if t, ok := ParseDate(raw); ok {
		return t.Format(time.DateOnly)
	}
	return strings.TrimSpace(raw)
}

// HasCJKDateMarker reports whether value contains 年, 月 or 日.
func HasCJKDateMarker(value string) bool {
	return strings.ContainsAny(value, "年月日")
}

// LooksLikeDate is the date-shape guard applied before a value is accepted as
// a date: it must carry a CJK date marker or be at least 8 characters long.
func LooksLikeDate(value string) bool {
	return HasCJKDateMarker(value) || utf8.RuneCountInString(value) >= 8
}
