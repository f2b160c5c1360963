package record

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator optionally checks each DataRecord against a user-supplied
// JSON Schema before it reaches the renderer. DataRecords stay schemaless by
// default (spec §3) — this is purely additive, invoked only when
// --data-schema is set.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the schema document at path.
func NewSchemaValidator(path string) (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile data schema %s: %w", path, err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// Validate reports the schema validator's own error message on failure,
// which becomes the stderr of a CompileErrorRecord for that data point.
func (v *SchemaValidator) Validate(d DataRecord) error {
	if v == nil {
		return nil
	}
	// Round-trip through JSON so numeric types match what the schema
	// library expects regardless of how d was constructed.
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal data record: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode data record: %w", err)
	}
	if err := v.schema.Validate(decoded); err != nil {
		return fmt.Errorf("data record failed schema validation: %w", err)
	}
	return nil
}
