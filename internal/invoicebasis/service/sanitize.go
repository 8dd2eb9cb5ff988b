package service

import (
	"strings"
	"unicode/utf8"
)

const ellipsis = "…"

// SanitizeText makes free text safe for one-line CSV export: whitespace runs
// (line breaks included) become one space, ';' becomes ',' and the result is
// cut to max runes with a trailing ellipsis. max <= 0 disables truncation.
func SanitizeText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, ";", ",")
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max == 1 {
		return ellipsis
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " ") + ellipsis
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
