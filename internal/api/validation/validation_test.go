package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tailstream/engine/internal/storage/events"
)

func TestValidateStreamName(t *testing.T) {
	valid := []string{
		"session-1",
		"a",
		"user.42_chat",
		"A" + strings.Repeat("b", 127),
	}
	for _, name := range valid {
		assert.NoError(t, ValidateStreamName(name), "name %q should be valid", name)
	}

	invalid := []string{
		"",
		"-leading-dash",
		".leading-dot",
		"has space",
		"has/slash",
		"A" + strings.Repeat("b", 128),
	}
	for _, name := range invalid {
		err := ValidateStreamName(name)
		require.Error(t, err, "name %q should be rejected", name)
		assert.IsType(t, StreamNameError{}, err)
	}
}

func TestEventValidator_EnvelopeRules(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	// Type tag is mandatory.
	err = v.Validate(events.Data{})
	require.Error(t, err)
	assert.IsType(t, ValidationError{}, err)

	// Unregistered types are payload-agnostic.
	assert.NoError(t, v.Validate(events.Data{Type: "custom-event"}))
	assert.NoError(t, v.Validate(events.Data{
		Type:    "custom-event",
		Payload: json.RawMessage(`{"anything": [1, 2, 3]}`),
	}))

	// But the payload must still be JSON.
	err = v.Validate(events.Data{
		Type:    "custom-event",
		Payload: json.RawMessage(`{broken`),
	})
	require.Error(t, err)
}

func TestEventValidator_BuiltinSchemas(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	// session-create works with or without a payload.
	assert.NoError(t, v.Validate(events.Data{Type: "session-create"}))
	assert.NoError(t, v.Validate(events.Data{
		Type:    "session-create",
		Payload: json.RawMessage(`{"sessionId": "abc"}`),
	}))
	assert.Error(t, v.Validate(events.Data{
		Type:    "session-create",
		Payload: json.RawMessage(`{"sessionId": ""}`),
	}))

	// prompt requires a text field.
	assert.NoError(t, v.Validate(events.Data{
		Type:    "prompt",
		Payload: json.RawMessage(`{"text": "hello"}`),
	}))
	assert.Error(t, v.Validate(events.Data{
		Type:    "prompt",
		Payload: json.RawMessage(`{"message": "hello"}`),
	}))
	assert.Error(t, v.Validate(events.Data{Type: "prompt"}), "prompt payload is required")
}

func TestEventValidator_Register(t *testing.T) {
	v, err := NewEventValidator()
	require.NoError(t, err)

	err = v.Register("tool-call", []byte(`{
		"type": "object",
		"required": ["name"],
		"properties": {"name": {"type": "string"}}
	}`))
	require.NoError(t, err)

	assert.NoError(t, v.Validate(events.Data{
		Type:    "tool-call",
		Payload: json.RawMessage(`{"name": "search"}`),
	}))
	assert.Error(t, v.Validate(events.Data{
		Type:    "tool-call",
		Payload: json.RawMessage(`{"args": {}}`),
	}))

	// Malformed schemas are rejected at registration.
	assert.Error(t, v.Register("bad", []byte(`{"type": 42}`)))
}
