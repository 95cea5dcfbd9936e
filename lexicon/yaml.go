package lexicon

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrEmptyLexicon is returned when a dictionary document defines no symbols.
var ErrEmptyLexicon = errors.New("lexicon defines no symbols")

type document struct {
	Symbols map[string]string `yaml:"symbols"`
}

// Parse decodes a YAML dictionary of the form:
//
//	symbols:
//	  cat: "🐱"
//	  dog: "🐶"
func Parse(data []byte) (Map, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse lexicon: %w", err)
	}
	m := NewMap(doc.Symbols)
	if len(m) == 0 {
		return nil, ErrEmptyLexicon
	}
	return m, nil
}

// LoadFile reads and parses the dictionary at path.
func LoadFile(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
