package mcpservice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ggoodman/wordplay-mcp/mcp"
	gschema "github.com/google/jsonschema-go/jsonschema"
	"github.com/invopop/jsonschema"
)

// reflectToMCPInputSchema reflects a Go type A into a jsonschema.Schema, and
// converts it to the simplified mcp.ToolInputSchema. Unknown field policy is
// surfaced via the AdditionalProperties flag on the returned schema.
func reflectToMCPInputSchema[A any](allowAdditional bool) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(A))

	// Only object schemas map onto ToolInputSchema; anything else is exposed
	// as an empty object.
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:                 "object",
			Properties:           map[string]mcp.SchemaProperty{},
			AdditionalProperties: allowAdditional,
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toMCPProperty(el.Value)
		}
	}
	return mcp.ToolInputSchema{
		Type:                 "object",
		Properties:           props,
		Required:             append([]string(nil), s.Required...),
		AdditionalProperties: allowAdditional,
	}
}

func toMCPProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toMCPProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toMCPProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// argumentValidator checks raw tool arguments against a tool's advertised
// input schema.
type argumentValidator struct {
	resolved *gschema.Resolved
}

func newArgumentValidator(in mcp.ToolInputSchema) (*argumentValidator, error) {
	root := toValidationSchema(in)
	resolved, err := root.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve input schema: %w", err)
	}
	return &argumentValidator{resolved: resolved}, nil
}

// validate returns one message per violation, or nil when raw is acceptable.
// Absent and null arguments are treated as an empty object.
func (v *argumentValidator) validate(raw json.RawMessage) ([]string, error) {
	var instance any = map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &instance); err != nil {
			return []string{fmt.Sprintf("arguments are not valid JSON: %v", err)}, err
		}
	}
	err := v.resolved.Validate(instance)
	if err == nil {
		return nil, nil
	}
	var violations []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			violations = append(violations, line)
		}
	}
	return violations, err
}

func toValidationSchema(in mcp.ToolInputSchema) *gschema.Schema {
	out := &gschema.Schema{
		Type:       "object",
		Properties: make(map[string]*gschema.Schema, len(in.Properties)),
		Required:   append([]string(nil), in.Required...),
	}
	for name, p := range in.Properties {
		out.Properties[name] = propertyToValidationSchema(p)
	}
	if !in.AdditionalProperties {
		// The "false" schema: no additional property can satisfy it.
		out.AdditionalProperties = &gschema.Schema{Not: &gschema.Schema{}}
	}
	return out
}

func propertyToValidationSchema(p mcp.SchemaProperty) *gschema.Schema {
	s := &gschema.Schema{
		Type:        p.Type,
		Description: p.Description,
	}
	if len(p.Enum) > 0 {
		s.Enum = append([]any(nil), p.Enum...)
	}
	if p.Items != nil {
		s.Items = propertyToValidationSchema(*p.Items)
	}
	if len(p.Properties) > 0 {
		s.Properties = make(map[string]*gschema.Schema, len(p.Properties))
		for name, child := range p.Properties {
			s.Properties[name] = propertyToValidationSchema(child)
		}
	}
	return s
}
