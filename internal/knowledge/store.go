// Package knowledge holds the hand-authored answer tables the engine scores
// queries against. A Store is built once and never modified afterwards.
package knowledge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/studypilot/backend/pkg/utils"
)

// Entry associates a lookup key with an answer body. Primary keys are
// phrases of one or more words; extended keys are single keywords.
type Entry struct {
	Key        string  `yaml:"key" json:"key"`
	Answer     string  `yaml:"answer" json:"answer"`
	Confidence float64 `yaml:"confidence" json:"confidence"`
	Topic      string  `yaml:"topic" json:"topic"`
}

var ErrInvalidEntry = errors.New("invalid knowledge entry")

type Store struct {
	primary     []Entry
	extended    []Entry
	fingerprint string
}

// NewStore validates and copies both tables, preserving their order. Keys
// are lower-cased and trimmed; duplicates within a table are rejected.
func NewStore(primary, extended []Entry) (*Store, error) {
	p, err := normalizeTable("primary", primary, false)
	if err != nil {
		return nil, err
	}
	e, err := normalizeTable("extended", extended, true)
	if err != nil {
		return nil, err
	}

	s := &Store{primary: p, extended: e}
	s.fingerprint = fingerprint(p, e)
	return s, nil
}

func MustNewStore(primary, extended []Entry) *Store {
	s, err := NewStore(primary, extended)
	if err != nil {
		panic(err)
	}
	return s
}

func normalizeTable(table string, entries []Entry, singleWord bool) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for i, entry := range entries {
		entry.Key = strings.ToLower(strings.TrimSpace(entry.Key))
		entry.Topic = strings.TrimSpace(entry.Topic)

		switch {
		case entry.Key == "":
			return nil, fmt.Errorf("%w: %s[%d] has an empty key", ErrInvalidEntry, table, i)
		case singleWord && len(strings.Fields(entry.Key)) != 1:
			return nil, fmt.Errorf("%w: %s key %q must be a single keyword", ErrInvalidEntry, table, entry.Key)
		case entry.Topic == "":
			return nil, fmt.Errorf("%w: %s key %q has no topic", ErrInvalidEntry, table, entry.Key)
		case entry.Confidence < 0 || entry.Confidence > 1:
			return nil, fmt.Errorf("%w: %s key %q confidence %.2f outside [0,1]", ErrInvalidEntry, table, entry.Key, entry.Confidence)
		case strings.TrimSpace(entry.Answer) == "":
			return nil, fmt.Errorf("%w: %s key %q has no answer", ErrInvalidEntry, table, entry.Key)
		}

		if _, dup := seen[entry.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate %s key %q", ErrInvalidEntry, table, entry.Key)
		}
		seen[entry.Key] = struct{}{}

		out = append(out, entry)
	}

	return out, nil
}

func fingerprint(primary, extended []Entry) string {
	parts := make([]string, 0, 2*(len(primary)+len(extended))+1)
	for _, e := range primary {
		parts = append(parts, e.Key, e.Topic, e.Answer)
	}
	parts = append(parts, "--")
	for _, e := range extended {
		parts = append(parts, e.Key, e.Topic, e.Answer)
	}
	return utils.HashParts(parts...)
}

// Primary returns a copy of the primary table in authoring order.
func (s *Store) Primary() []Entry {
	if s == nil {
		return nil
	}
	return append([]Entry(nil), s.primary...)
}

// Extended returns a copy of the extended keyword table in authoring order.
func (s *Store) Extended() []Entry {
	if s == nil {
		return nil
	}
	return append([]Entry(nil), s.extended...)
}

// lookup finds a primary entry by its exact (case-insensitive) key.
func (s *Store) lookup(key string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	key = strings.ToLower(strings.TrimSpace(key))
	for _, e := range s.primary {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

func (s *Store) Sizes() (primary, extended int) {
	if s == nil {
		return 0, 0
	}
	return len(s.primary), len(s.extended)
}

// Fingerprint identifies the table contents, so deployments can tell which
// knowledge revision is being served.
func (s *Store) Fingerprint() string {
	if s == nil {
		return ""
	}
	return s.fingerprint
}

// Topics lists the distinct topic labels in first-seen order.
func (s *Store) Topics() []string {
	if s == nil {
		return nil
	}
	var topics []string
	seen := make(map[string]struct{})
	for _, table := range [][]Entry{s.primary, s.extended} {
		for _, e := range table {
			if _, ok := seen[e.Topic]; ok {
				continue
			}
			seen[e.Topic] = struct{}{}
			topics = append(topics, e.Topic)
		}
	}
	return topics
}
