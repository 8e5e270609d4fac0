package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var detectResponseSchema = map[string]any{
	"type":     "object",
	"required": []any{"detections"},
	"properties": map[string]any{
		"detections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"bbox", "cls"},
				"properties": map[string]any{
					"bbox": map[string]any{
						"type":     "array",
						"items":    map[string]any{"type": "number"},
						"minItems": 4,
						"maxItems": 4,
					},
					"cls":  map[string]any{"type": "string"},
					"conf": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
				},
			},
		},
	},
}

var formulaResponseSchema = map[string]any{
	"type":     "object",
	"required": []any{"latex"},
	"properties": map[string]any{
		"latex": map[string]any{"type": "string"},
	},
}

var textResponseSchema = map[string]any{
	"type":     "object",
	"required": []any{"text"},
	"properties": map[string]any{
		"text":       map[string]any{"type": "string"},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	},
}

// compileSchema compiles schemaMap under name.
func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
