// Package validation checks requests at the append boundary: event
// envelopes, per-type payload schemas, and stream names.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tailstream/engine/internal/storage/events"
)

// EventValidator validates event envelopes and, for registered types,
// their payload shape. Unregistered types pass the envelope check only;
// the engine stays payload-agnostic beyond the type tag.
type EventValidator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// Built-in payload schemas for the session lifecycle events every agent
// adapter emits.
var builtinSchemas = map[string]string{
	"session-create": `{
		"type": ["object", "null"],
		"properties": {
			"sessionId": {"type": "string", "minLength": 1}
		},
		"additionalProperties": true
	}`,
	"prompt": `{
		"type": "object",
		"required": ["text"],
		"properties": {
			"text": {"type": "string"}
		},
		"additionalProperties": true
	}`,
}

// NewEventValidator creates a validator with the built-in schemas
// registered.
func NewEventValidator() (*EventValidator, error) {
	v := &EventValidator{
		compiled: make(map[string]*jsonschema.Schema),
	}
	for eventType, schemaDef := range builtinSchemas {
		if err := v.Register(eventType, []byte(schemaDef)); err != nil {
			return nil, fmt.Errorf("failed to register schema for %s: %w", eventType, err)
		}
	}
	return v, nil
}

// Register compiles and installs a payload schema for an event type.
func (v *EventValidator) Register(eventType string, schemaDefinition []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaDefinition)); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	v.mu.Lock()
	v.compiled[eventType] = schema
	v.mu.Unlock()
	return nil
}

// Validate checks an event envelope. Failures happen before any offset is
// assigned; nothing is ever partially appended.
func (v *EventValidator) Validate(data events.Data) error {
	if data.Type == "" {
		return ValidationError{Field: "event type", Reason: "type tag is required"}
	}

	v.mu.RLock()
	schema, registered := v.compiled[data.Type]
	v.mu.RUnlock()

	if len(data.Payload) > 0 {
		var payload interface{}
		if err := json.Unmarshal(data.Payload, &payload); err != nil {
			return ValidationError{Field: "event payload", Reason: "payload is not valid JSON"}
		}
		if registered {
			if err := schema.Validate(payload); err != nil {
				return ValidationError{Field: "event payload", Reason: err.Error()}
			}
		}
		return nil
	}

	if registered {
		// A registered schema may require a payload; validate null.
		if err := schema.Validate(nil); err != nil {
			return ValidationError{Field: "event payload", Reason: "payload is required for type " + data.Type}
		}
	}
	return nil
}
