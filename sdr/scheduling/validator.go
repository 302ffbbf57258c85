package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError lists every schema violation of one argument document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "schema validation errors: " + strings.Join(e.Problems, "; ")
}

// JSONValidator checks tool arguments against their reflected schema.
// Compiled schemas are kept per tool.
type JSONValidator struct {
	schemas map[string]*gojsonschema.Schema
}

func NewJSONValidator() *JSONValidator {
	return &JSONValidator{schemas: make(map[string]*gojsonschema.Schema)}
}

// Compile registers schema under name.
func (v *JSONValidator) Compile(name string, schema []byte) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}
	v.schemas[name] = compiled
	return nil
}

// Validate checks data against the schema registered under name. Unknown
// names pass.
func (v *JSONValidator) Validate(name string, data json.RawMessage) error {
	schema, ok := v.schemas[name]
	if !ok {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("arguments are not valid JSON")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return &ValidationError{Problems: problems}
	}
	return nil
}
