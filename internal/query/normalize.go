package query

import "strings"

// Normalize lower-cases and trims a raw query. Matching always runs on the
// normalized form; overrides look at the raw text.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
