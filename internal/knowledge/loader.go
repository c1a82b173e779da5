package knowledge

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/default.yaml
var defaultTables []byte

type tableFile struct {
	Primary  []Entry `yaml:"primary"`
	Extended []Entry `yaml:"extended"`
}

var (
	defaultOnce  sync.Once
	defaultStore *Store
)

// Default returns the built-in Study Pilot tables. The embedded data is
// validated by tests, so a parse failure here is a build defect.
func Default() *Store {
	defaultOnce.Do(func() {
		s, err := Parse(defaultTables)
		if err != nil {
			panic(fmt.Sprintf("knowledge: embedded tables are invalid: %v", err))
		}
		defaultStore = s
	})
	return defaultStore
}

// Parse reads a YAML document with top-level "primary" and "extended" lists.
func Parse(data []byte) (*Store, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var tf tableFile
	if err := dec.Decode(&tf); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge tables: %w", err)
	}

	return NewStore(tf.Primary, tf.Extended)
}

func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge file: %w", err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
