package query

import (
	"strings"

	"github.com/studypilot/backend/internal/knowledge"
)

type ScoredMatch struct {
	Entry knowledge.Entry
	Score int
}

// Score rates a primary key against a normalized query. A contiguous phrase
// hit is worth three points per key word; otherwise each key word found
// anywhere in the query is worth one.
func Score(key, normalized string) int {
	words := strings.Fields(key)
	if key != "" && strings.Contains(normalized, key) {
		return len(words) * 3
	}

	score := 0
	for _, w := range words {
		if strings.Contains(normalized, w) {
			score++
		}
	}
	return score
}

// matchPrimary keeps the first entry with the strictly highest score, so
// ties resolve to authoring order.
func matchPrimary(entries []knowledge.Entry, normalized string) (ScoredMatch, bool) {
	var best ScoredMatch
	for _, e := range entries {
		if s := Score(e.Key, normalized); s > best.Score {
			best = ScoredMatch{Entry: e, Score: s}
		}
	}
	return best, best.Score >= 1
}
