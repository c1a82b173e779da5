package query

import (
	"math/rand"
	"sync"
	"time"
)

// Source supplies the randomness used for composition, fallback suggestions
// and the thinking delay. Tests inject fixed sequences.
type Source interface {
	Intn(n int) int
}

type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSource returns a goroutine-safe Source seeded with seed.
func NewSource(seed int64) Source {
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

func newTimeSource() Source {
	return NewSource(time.Now().UnixNano())
}

func (s *lockedSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

// pick returns a uniformly chosen element, or "" for an empty list. An
// out-of-range index from a misbehaving Source is clamped to the first item.
func pick(src Source, items []string) string {
	if len(items) == 0 {
		return ""
	}
	i := src.Intn(len(items))
	if i < 0 || i >= len(items) {
		i = 0
	}
	return items[i]
}
