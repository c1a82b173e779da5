package query

import "time"

const (
	DefaultDelayMin = 800 * time.Millisecond
	DefaultDelayMax = 2000 * time.Millisecond
)

// Latency draws the simulated thinking time, uniform over [Min, Max] at
// millisecond resolution.
type Latency struct {
	Min  time.Duration
	Max  time.Duration
	rand Source
}

func (l Latency) Next() time.Duration {
	lo := l.Min
	if lo < 0 {
		lo = 0
	}
	if l.Max <= lo {
		return lo
	}
	span := int((l.Max - lo) / time.Millisecond)
	n := l.rand.Intn(span + 1)
	if n < 0 || n > span {
		n = span
	}
	return lo + time.Duration(n)*time.Millisecond
}
