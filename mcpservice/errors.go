package mcpservice

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateTool is returned by Registry.Register when a tool with the same
// name is already registered.
var ErrDuplicateTool = errors.New("duplicate tool name")

// UnknownToolError is returned by Registry.Invoke for names that were never
// registered.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %q", e.Name)
}

// ValidationError is returned by Registry.Invoke when the call arguments do
// not satisfy the tool's input schema. Violations holds one message per
// problem found.
type ValidationError struct {
	Tool       string
	Violations []string
	err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %s", e.Tool, strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Unwrap() error { return e.err }
