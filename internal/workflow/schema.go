package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

// baseOfferSchema is what every offer payload must satisfy regardless of
// category.
const baseOfferSchema = `{
	"type": "object",
	"required": ["price", "currency", "description"],
	"properties": {
		"price": {"type": "number", "minimum": 0},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3},
		"description": {"type": "string", "minLength": 1}
	}
}`

// categoryOfferSchemas layer category-specific required fields on top of
// the base shape.
var categoryOfferSchemas = map[string]string{
	"hotel": `{
		"type": "object",
		"required": ["price", "currency", "description", "checkIn", "checkOut"],
		"properties": {
			"price": {"type": "number", "minimum": 0},
			"currency": {"type": "string", "minLength": 3, "maxLength": 3},
			"description": {"type": "string", "minLength": 1},
			"checkIn": {"type": "string", "format": "date"},
			"checkOut": {"type": "string", "format": "date"},
			"roomType": {"type": "string"}
		}
	}`,
	"transport": `{
		"type": "object",
		"required": ["price", "currency", "description", "pickupAt"],
		"properties": {
			"price": {"type": "number", "minimum": 0},
			"currency": {"type": "string", "minLength": 3, "maxLength": 3},
			"description": {"type": "string", "minLength": 1},
			"pickupAt": {"type": "string"},
			"vehicleType": {"type": "string"}
		}
	}`,
	"tour": `{
		"type": "object",
		"required": ["price", "currency", "description", "durationHours"],
		"properties": {
			"price": {"type": "number", "minimum": 0},
			"currency": {"type": "string", "minLength": 3, "maxLength": 3},
			"description": {"type": "string", "minLength": 1},
			"durationHours": {"type": "number", "minimum": 0.5},
			"groupSize": {"type": "integer", "minimum": 1}
		}
	}`,
}

// PayloadValidator checks offer payloads against per-category JSON schemas.
// Compiled schemas are cached; the set is small and static but compilation
// is not free.
type PayloadValidator struct {
	cache *expirable.LRU[string, *js.Schema]
}

func NewPayloadValidator() *PayloadValidator {
	return &PayloadValidator{
		cache: expirable.NewLRU[string, *js.Schema](16, nil, time.Hour),
	}
}

func (v *PayloadValidator) schemaFor(category string) (*js.Schema, error) {
	category = strings.ToLower(category)
	if compiled, ok := v.cache.Get(category); ok {
		return compiled, nil
	}

	src, ok := categoryOfferSchemas[category]
	if !ok {
		src = baseOfferSchema
	}

	compiler := js.NewCompiler()
	resource := "mem://offer/" + category + ".json"
	if err := compiler.AddResource(resource, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile offer schema: %w", err)
	}

	v.cache.Add(category, compiled)
	return compiled, nil
}

// Validate rejects malformed payloads before any state change happens.
func (v *PayloadValidator) Validate(category string, payload map[string]interface{}) error {
	compiled, err := v.schemaFor(category)
	if err != nil {
		return err
	}
	// Round-trip through JSON so the validator always sees json-native
	// types, whatever the caller built the map from.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if value == nil {
		value = map[string]interface{}{}
	}

	if err := compiled.Validate(value); err != nil {
		return fmt.Errorf("offer payload invalid: %w", err)
	}
	return nil
}
