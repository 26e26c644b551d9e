// Package tool implements the name-keyed tool registry — schema,
// handler, category, and permission per tool — and the concrete
// handlers for every agent, task, context, rag, session, and health
// tool named in the wire surface.
package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// generateSchema reflects a typed argument struct into the flattened
// JSON-schema object the wire layer advertises for a tool. Struct tags
// (`jsonschema:"required"`, `jsonschema_description:"..."`) drive
// field documentation and requiredness.
func generateSchema[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))
	return schemaToMap(schema)
}

// schemaToMap round-trips the reflected schema through map[string]any
// so $schema/$id can be stripped and an object schema flattened to
// {type, properties, required?, additionalProperties?} for tool-call
// consumption.
func schemaToMap(schema *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	delete(raw, "$schema")
	delete(raw, "$id")

	if raw["type"] == "object" {
		flat := map[string]any{
			"type":       "object",
			"properties": raw["properties"],
		}
		if required, ok := raw["required"]; ok {
			flat["required"] = required
		}
		flat["additionalProperties"] = false
		return flat, nil
	}
	return raw, nil
}
