// Package schema compiles JSON Schema documents and validates raw JSON
// against them, reporting each failing location as a separate problem.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Iron-Ham/arbiter/internal/errors"
)

// Schema is a compiled JSON Schema bound to a document name used in errors.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// Compile compiles raw schema JSON. The name identifies the validated
// document kind in ValidationErrors (e.g. "knowledge.json").
func Compile(name string, raw []byte) (*Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(name+".schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", name, err)
	}
	sch, err := c.Compile(name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: sch}, nil
}

// MustCompile is Compile for package-level embedded schemas.
func MustCompile(name string, raw []byte) *Schema {
	s, err := Compile(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks raw JSON against the schema. It returns nil or an
// *errors.ValidationError listing one problem per failing location.
func (s *Schema) Validate(data []byte) error {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return errors.NewValidationError(s.name, "invalid JSON: "+err.Error()).WithCause(err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return errors.NewValidationError(s.name, problems(err)...).WithCause(err)
	}
	return nil
}

// ValidateValue marshals v and validates the result.
func (s *Schema) ValidateValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewValidationError(s.name, "marshal: "+err.Error()).WithCause(err)
	}
	return s.Validate(data)
}

// problems flattens the validator's multi-line message into one entry per
// failing location, dropping the header line.
func problems(err error) []string {
	lines := strings.Split(err.Error(), "\n")
	var out []string
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		out = []string{strings.TrimSpace(lines[0])}
	}
	return out
}
