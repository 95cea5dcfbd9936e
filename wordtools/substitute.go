package wordtools

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ggoodman/wordplay-mcp/lexicon"
)

// Mode selects where a matched token's symbol is placed.
type Mode int

const (
	// ModeAppend places the symbol after the whole token: "dog!" -> "dog!🐶".
	ModeAppend Mode = iota
	// ModeInline places the symbol between the word and its trailing
	// punctuation: "dog!" -> "dog🐶!".
	ModeInline
)

func (m Mode) String() string {
	switch m {
	case ModeAppend:
		return "append"
	case ModeInline:
		return "inline"
	default:
		return "unknown"
	}
}

// Substituter decorates words found in a lexicon with their symbols.
type Substituter struct {
	table lexicon.Table
	mode  Mode
}

// NewSubstituter creates a Substituter over table.
func NewSubstituter(table lexicon.Table, mode Mode) *Substituter {
	return &Substituter{table: table, mode: mode}
}

// token is one space-delimited piece of input split into the surrounding
// punctuation and the word core used for lookup.
type token struct {
	lead, core, trail string
}

func isTrim(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

func splitToken(s string) token {
	start := strings.IndexFunc(s, func(r rune) bool { return !isTrim(r) })
	if start < 0 {
		return token{lead: s}
	}
	end := strings.LastIndexFunc(s, func(r rune) bool { return !isTrim(r) })
	_, size := utf8.DecodeRuneInString(s[end:])
	end += size
	return token{lead: s[:start], core: s[start:end], trail: s[end:]}
}

// Substitute returns text with symbols added after every word the lexicon
// knows. Text is split on single spaces and rejoined the same way, so
// spacing is preserved; unmatched tokens pass through unchanged.
func (s *Substituter) Substitute(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}
	parts := strings.Split(text, " ")
	toks := make([]token, len(parts))
	seen := make(map[string]struct{})
	var keys []string
	for i, p := range parts {
		toks[i] = splitToken(p)
		if toks[i].core == "" {
			continue
		}
		key := strings.ToLower(toks[i].core)
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return text, nil
	}

	symbols, err := s.table.Lookup(ctx, keys)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(text) + 4*len(symbols))
	for i, t := range toks {
		if i > 0 {
			b.WriteByte(' ')
		}
		sym, ok := "", false
		if t.core != "" {
			sym, ok = symbols[strings.ToLower(t.core)]
		}
		switch {
		case !ok:
			b.WriteString(parts[i])
		case s.mode == ModeInline:
			b.WriteString(t.lead)
			b.WriteString(t.core)
			b.WriteString(sym)
			b.WriteString(t.trail)
		default:
			b.WriteString(parts[i])
			b.WriteString(sym)
		}
	}
	return b.String(), nil
}
