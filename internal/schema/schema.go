// Package schema derives JSON Schema documents for tool argument structs.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// For reflects T into a plain JSON Schema object. Definitions are inlined
// so the result can be embedded directly as a tool's inputSchema.
func For[T any]() (map[string]any, error) {
	r := &jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	var v T
	s := r.Reflect(&v)

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// The meta-schema reference is noise inside a tool manifest.
	delete(out, "$schema")
	delete(out, "$id")
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out, nil
}
