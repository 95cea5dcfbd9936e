// Package lexicon provides the word-to-symbol tables used by the emoji
// substitution tools.
//
// A Table answers batched lookups for normalized (lowercased) words. Map is
// an immutable in-memory table loaded from YAML; Default returns the
// dictionary embedded in the binary. Reloading watches a YAML file and swaps
// in a fresh Map whenever it changes. The redislexicon subpackage reads
// symbols from a Redis hash.
package lexicon

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
)

// Table maps normalized words to symbols.
type Table interface {
	// Lookup returns the symbols for the given words. Words without a symbol
	// are absent from the result. Words are expected to be lowercased.
	Lookup(ctx context.Context, words []string) (map[string]string, error)
}

// Map is an immutable in-memory Table.
type Map map[string]string

var _ Table = Map(nil)

// NewMap builds a Map, lowercasing keys and dropping empty entries.
func NewMap(entries map[string]string) Map {
	m := make(Map, len(entries))
	for word, symbol := range entries {
		word = strings.ToLower(strings.TrimSpace(word))
		if word == "" || symbol == "" {
			continue
		}
		m[word] = symbol
	}
	return m
}

func (m Map) Lookup(_ context.Context, words []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, w := range words {
		if sym, ok := m[w]; ok {
			out[w] = sym
		}
	}
	return out, nil
}

//go:embed default.yaml
var defaultYAML []byte

var (
	defaultOnce sync.Once
	defaultMap  Map
)

// Default returns the embedded dictionary.
func Default() Map {
	defaultOnce.Do(func() {
		m, err := Parse(defaultYAML)
		if err != nil {
			panic(fmt.Sprintf("lexicon: embedded dictionary is invalid: %v", err))
		}
		defaultMap = m
	})
	return defaultMap
}
