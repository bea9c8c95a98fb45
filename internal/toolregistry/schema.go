package toolregistry

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{FieldNameTag: "json"}

// SchemaFor reflects an argument struct's JSON schema for a tool descriptor's
// Parameters field. v should be a pointer to the zero value of the args
// struct, e.g. SchemaFor(&CallAPIArgs{}).
func SchemaFor(v any) json.RawMessage {
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return data
}
