// Package form describes the incident report form: which labels the remote
// endpoint expects, which of them are numeric, and which are required.
package form

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/incidentq/internal/submission"
)

//go:embed default_schema.yaml
var defaultSchemaYAML []byte

// Kind is the wire type of a field.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
)

// FieldSpec declares one form field.
type FieldSpec struct {
	Label    string `yaml:"label"`
	Kind     Kind   `yaml:"kind"`
	Required bool   `yaml:"required"`
}

// Display names the fields used to label pending-list rows.
type Display struct {
	Submitter string `yaml:"submitter"`
	Kind      string `yaml:"kind"`
}

// Schema is a parsed form definition.
type Schema struct {
	Name            string      `yaml:"name"`
	AttachmentField string      `yaml:"attachment_field"`
	Display         Display     `yaml:"display"`
	Fields          []FieldSpec `yaml:"fields"`

	index map[string]int
}

// Default returns the embedded incident report schema.
func Default() *Schema {
	s, err := Parse(defaultSchemaYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded form schema is invalid: %v", err))
	}
	return s
}

// Load reads a schema from a YAML file. An empty path returns Default().
func Load(path string) (*Schema, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading form schema: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("form schema %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and checks a YAML schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("schema declares no fields")
	}
	if s.AttachmentField == "" {
		s.AttachmentField = "file"
	}
	s.index = make(map[string]int, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Label == "" {
			return nil, fmt.Errorf("field %d has no label", i)
		}
		if f.Kind == "" {
			f.Kind = KindString
		}
		if f.Kind != KindString && f.Kind != KindNumber {
			return nil, fmt.Errorf("field %q: unknown kind %q", f.Label, f.Kind)
		}
		if _, dup := s.index[f.Label]; dup {
			return nil, fmt.Errorf("duplicate field label %q", f.Label)
		}
		s.index[f.Label] = i
	}
	return &s, nil
}

// Lookup returns the FieldSpec for label.
func (s *Schema) Lookup(label string) (FieldSpec, bool) {
	i, ok := s.index[label]
	if !ok {
		return FieldSpec{}, false
	}
	return s.Fields[i], true
}

// IsNumber reports whether label is declared numeric.
func (s *Schema) IsNumber(label string) bool {
	f, ok := s.Lookup(label)
	return ok && f.Kind == KindNumber
}

// Normalize converts numeric-kind string values that parse as finite numbers
// into numbers. Blank values stay blank; anything else is left for Validate
// to reject.
func (s *Schema) Normalize(fields []submission.Field) []submission.Field {
	out := make([]submission.Field, len(fields))
	for i, f := range fields {
		out[i] = f
		if f.Value.IsNumber() || !s.IsNumber(f.Label) {
			continue
		}
		raw := strings.TrimSpace(f.Value.Text())
		if raw == "" {
			out[i].Value = submission.String("")
			continue
		}
		if n, err := strconv.ParseFloat(raw, 64); err == nil && finite(n) {
			out[i].Value = submission.Number(n)
		}
	}
	return out
}

// Validate returns an error naming every required field that is missing or
// blank, and every numeric field whose value is not a finite number. Call it
// after Normalize: a submission that passes always encodes.
func (s *Schema) Validate(fields []submission.Field) error {
	present := make(map[string]bool, len(fields))
	var notNumbers []string
	for _, f := range fields {
		if !f.Value.IsBlank() {
			present[f.Label] = true
		}
		if s.IsNumber(f.Label) && !f.Value.IsBlank() && !(f.Value.IsNumber() && finite(f.Value.Float())) {
			notNumbers = append(notNumbers, f.Label)
		}
	}
	var missing []string
	for _, spec := range s.Fields {
		if spec.Required && !present[spec.Label] {
			missing = append(missing, spec.Label)
		}
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "required field missing: "+strings.Join(missing, ", "))
	}
	if len(notNumbers) > 0 {
		problems = append(problems, "must be a number: "+strings.Join(notNumbers, ", "))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func finite(n float64) bool { return !math.IsNaN(n) && !math.IsInf(n, 0) }

// JSONSchema renders a draft 2020-12 JSON Schema for the encoded fields
// document. Every declared label is required so the key set stays stable;
// numeric fields also accept the empty string used for absent values.
func (s *Schema) JSONSchema() string {
	props := make(map[string]any, len(s.Fields))
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Kind == KindNumber {
			props[f.Label] = map[string]any{
				"anyOf": []any{
					map[string]any{"type": "number"},
					map[string]any{"const": ""},
				},
			}
		} else {
			props[f.Label] = map[string]any{"type": "string"}
		}
		required = append(required, f.Label)
	}
	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

// RowLabel formats the pending-list label for a submission.
func (s *Schema) RowLabel(sub submission.Submission) string {
	name, _ := sub.Get(s.Display.Submitter)
	kind, _ := sub.Get(s.Display.Kind)
	return fmt.Sprintf("Report from %s (%s)", name.Text(), kind.Text())
}
