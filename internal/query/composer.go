package query

import "strings"

var (
	defaultPrefixes = []string{
		"Great question!",
		"Let's break this down.",
		"Here's how I'd explain it.",
		"Good one, this comes up a lot in exams.",
		"Sure, let's go through it.",
	}

	defaultSuffixes = []string{
		"Want me to go deeper into any part of this?",
		"Try working through a small example on paper to lock it in.",
		"Let me know if you'd like a practice question on this.",
		"Hope that helps. Ask a follow-up anytime!",
		"Keep going, you're making good progress!",
	}
)

// Composer wraps an answer body in a conversational opener and closer. It
// never touches confidence or topic.
type Composer struct {
	Prefixes []string
	Suffixes []string
	rand     Source
}

func (c Composer) Compose(body string) string {
	parts := make([]string, 0, 3)
	if p := pick(c.rand, c.Prefixes); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, body)
	if s := pick(c.rand, c.Suffixes); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}
