package llm

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const decimalPattern = `^-?\d+(\.\d+)?$`

// BuildTradeJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the model as a structured output constraint and also use it locally to validate.
// The trades array is unbounded here; the batch cap is enforced by the coordinator, never by truncation.
func BuildTradeJSONSchema() map[string]any {
	trade := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"symbol":        map[string]any{"type": "string", "minLength": 1, "maxLength": 32},
			"side":          map[string]any{"type": "string", "enum": []string{"long", "short"}},
			"entry_price":   decimalProp(),
			"exit_price":    decimalProp(),
			"position_size": decimalProp(),
			"opened_at":     map[string]any{"type": "string", "minLength": 10},
			"closed_at":     map[string]any{"type": "string", "minLength": 10},
			"pnl":           decimalProp(),
			"roi":           decimalProp(),
			"fees":          decimalProp(),
		},
		"required": []string{"symbol", "side", "entry_price"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"trades":     map[string]any{"type": "array", "items": trade},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
		"required": []string{"trades"},
	}
}

func decimalProp() map[string]any {
	return map[string]any{"type": "string", "pattern": decimalPattern}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// ImageDataURL encodes image bytes for a vision message, sniffing the mime type.
func ImageDataURL(image []byte) string {
	mt := http.DetectContentType(image)
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(image)
}
