// Package wordtools implements the text tools served by wordplay: first
// letter extraction and word-to-emoji substitution, plus their bindings into
// an mcpservice.Registry.
package wordtools

import (
	"context"
	"fmt"

	"github.com/ggoodman/wordplay-mcp/lexicon"
	"github.com/ggoodman/wordplay-mcp/mcpservice"
	"github.com/ggoodman/wordplay-mcp/sessions"
)

// Tool names.
const (
	FirstLetterTool  = "first-letter"
	EmojifyTool      = "emojify"
	EmojifyWordsTool = "emojify-words"
)

// EmptyWordMessage is the error text returned by first-letter for "".
const EmptyWordMessage = "word is empty: no first letter"

type FirstLetterArgs struct {
	Word string `json:"word" jsonschema:"description=The word whose first letter is returned"`
}

type EmojifyArgs struct {
	Text string `json:"text" jsonschema:"description=Text to decorate with emoji"`
}

// NewFirstLetterTool builds the first-letter tool.
func NewFirstLetterTool() mcpservice.StaticTool {
	return mcpservice.NewTool[FirstLetterArgs](FirstLetterTool,
		func(ctx context.Context, _ *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[FirstLetterArgs]) error {
			first, ok := FirstRune(r.Args().Word)
			if !ok {
				w.SetError(true)
				return w.AppendText(EmptyWordMessage)
			}
			w.SetStructured(map[string]any{"letter": string(first)})
			return w.AppendText(fmt.Sprintf("First letter is: %c", first))
		},
		mcpservice.WithToolTitle("First Letter Extractor"),
		mcpservice.WithToolDescription("Returns the first letter of a given word"),
	)
}

// NewEmojifyTool builds a substitution tool named name using mode.
func NewEmojifyTool(name string, table lexicon.Table, mode Mode) mcpservice.StaticTool {
	sub := NewSubstituter(table, mode)
	desc := "Appends a matching emoji after every known word"
	if mode == ModeInline {
		desc = "Inserts a matching emoji after every known word, before trailing punctuation"
	}
	return mcpservice.NewTool[EmojifyArgs](name,
		func(ctx context.Context, _ *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EmojifyArgs]) error {
			out, err := sub.Substitute(ctx, r.Args().Text)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return w.AppendText(out)
		},
		mcpservice.WithToolDescription(desc),
	)
}

// Register adds first-letter, emojify and emojify-words to reg.
func Register(reg *mcpservice.Registry, table lexicon.Table) error {
	for _, t := range []mcpservice.StaticTool{
		NewFirstLetterTool(),
		NewEmojifyTool(EmojifyTool, table, ModeAppend),
		NewEmojifyTool(EmojifyWordsTool, table, ModeInline),
	} {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
