// Package events defines the event envelope shared by the stream store,
// the subscription manager, and the transport layer.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CursorStart is the sentinel cursor meaning "before the first event".
const CursorStart = "-1"

// Data is the payload-agnostic event body. The engine interprets nothing
// beyond the type tag.
type Data struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is one committed entry in a stream.
type Event struct {
	// Offset is the event's position in its stream, rendered as a decimal
	// string so long-lived streams never hit a fixed-width ceiling.
	Offset string `json:"offset"`

	// EventStreamID identifies the producer incarnation that appended the
	// event. Consumers use a change in this value to detect that the
	// logical stream was restarted by a new producer.
	EventStreamID string `json:"eventStreamId"`

	Data Data `json:"data"`

	CreatedAt time.Time `json:"createdAt"`
}

// Seq returns the event's offset as an integer. Stored events always carry
// a well-formed offset; a zero return means the envelope was corrupted.
func (e Event) Seq() uint64 {
	seq, err := ParseOffset(e.Offset)
	if err != nil {
		return 0
	}
	return seq
}

// FormatOffset renders an internal sequence number as a wire offset.
func FormatOffset(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// ParseOffset parses a wire offset. The "-1" sentinel is not a valid
// offset; use ParseCursor for consumer-supplied positions.
func ParseOffset(s string) (uint64, error) {
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q: %w", s, err)
	}
	return seq, nil
}

// ParseCursor parses a consumer-held cursor. An empty string or the "-1"
// sentinel both mean "before the first event" and map to zero; the first
// assigned offset is 1.
func ParseCursor(s string) (uint64, error) {
	if s == "" || s == CursorStart {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q: %w", s, err)
	}
	return seq, nil
}
