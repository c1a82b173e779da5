package query

import "fmt"

const (
	FallbackConfidence = 0.65
	FallbackTemplate   = "I don't have a specific answer for that yet. Try asking me about %s, " +
		"or rephrase your question with the key term you're studying."
)

var defaultSuggestions = []string{
	"hash tables",
	"binary search trees",
	"time complexity and Big-O notation",
	"sorting algorithms like quick sort and merge sort",
	"graph traversal with BFS and DFS",
	"dynamic programming",
	"the Fourier transform",
	"convolution",
	"the Z-transform",
	"the first law of thermodynamics",
	"entropy",
	"the sampling theorem",
}

type Fallback struct {
	Suggestions []string
	rand        Source
}

// Generate suggests one topic at random.
func (f Fallback) Generate() string {
	topic := pick(f.rand, f.Suggestions)
	if topic == "" {
		topic = "any topic from your courses"
	}
	return fmt.Sprintf(FallbackTemplate, topic)
}
