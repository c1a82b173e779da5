package query

import "regexp"

const (
	OverrideConfidence = 0.98
	GeneralTopic       = "General"
)

// Override is an intent classifier checked against the raw query. When its
// pattern matches, its answer replaces whatever the matchers produced.
type Override struct {
	Name    string
	Pattern *regexp.Regexp
	Answer  string
}

// DefaultOverrides returns greeting, thanks and identity, in the order they
// are applied.
func DefaultOverrides() []Override {
	return []Override{
		{
			Name:    "greeting",
			Pattern: regexp.MustCompile(`(?i)^\s*(hi|hello|hey|hiya|howdy|greetings|good\s+(morning|afternoon|evening))\b`),
			Answer: "Hello! I'm Study Pilot, your study companion. Ask me about data structures, " +
				"algorithms, signals and systems, thermodynamics or digital signal processing and " +
				"I'll walk you through it.",
		},
		{
			Name:    "thanks",
			Pattern: regexp.MustCompile(`(?i)\b(thanks|thank\s+you|thx|appreciated?|grateful|cheers)\b`),
			Answer: "You're very welcome! Keep the questions coming. Steady practice is how " +
				"these topics stick.",
		},
		{
			Name:    "identity",
			Pattern: regexp.MustCompile(`(?i)\b(who|what)\s+are\s+you\b|\byour\s+name\b|\babout\s+you(rself)?\b`),
			Answer: "I'm Study Pilot, an AI study assistant for university students. I explain " +
				"course concepts, suggest what to revise next and help you prepare for exams.",
		},
	}
}

// applyOverrides folds over the list in order; the last matching override
// wins.
func applyOverrides(overrides []Override, raw string) (Override, bool) {
	var (
		hit Override
		ok  bool
	)
	for _, o := range overrides {
		if o.Pattern != nil && o.Pattern.MatchString(raw) {
			hit, ok = o, true
		}
	}
	return hit, ok
}
