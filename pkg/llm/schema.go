package llm

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a Go struct into a JSON Schema document, the shape
// handed to the provider as `output_schema` (spec §4.1). v should be a
// pointer to a zero-value struct; only its shape is inspected.
func SchemaFor(v any) (json.RawMessage, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(v)
	return schema.MarshalJSON()
}

// schemaDoc is the subset of a JSON Schema document needed to check
// required-field presence and primitive types (spec §4.1 step 5). Full
// JSON-Schema semantics (refs, nested definitions, composition) are not
// needed: SchemaFor inlines every type, and only the top-level object's
// required list is checked; nested array items are not validated.
type schemaDoc struct {
	Required   []string `json:"required"`
	Properties map[string]struct {
		Type string `json:"type"`
	} `json:"properties"`
}

func parseSchemaDoc(raw json.RawMessage) (*schemaDoc, error) {
	var doc schemaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("llm: invalid output schema: %w", err)
	}
	return &doc, nil
}

// checkRequired reports the first missing required field, or "" if none.
func (d *schemaDoc) checkRequired(obj map[string]interface{}) string {
	for _, field := range d.Required {
		if _, ok := obj[field]; !ok {
			return field
		}
	}
	return ""
}
