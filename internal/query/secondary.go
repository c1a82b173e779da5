package query

import (
	"strings"

	"github.com/studypilot/backend/internal/knowledge"
)

// matchSecondary returns the first extended entry whose keyword occurs in
// the query. Unlike the primary table this is first-hit, not best-hit.
func matchSecondary(entries []knowledge.Entry, normalized string) (knowledge.Entry, bool) {
	for _, e := range entries {
		if strings.Contains(normalized, e.Key) {
			return e, true
		}
	}
	return knowledge.Entry{}, false
}
