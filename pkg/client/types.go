package client

import (
	"encoding/json"
	"strconv"
	"time"
)

// CursorStart is the cursor that reads a stream from the beginning.
const CursorStart = "-1"

// Data is a typed event body.
type Data struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalPayload decodes the payload into v. A missing payload is
// left untouched rather than treated as an error.
func (d Data) UnmarshalPayload(v interface{}) error {
	if len(d.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(d.Payload, v)
}

// Event is a single committed stream entry.
type Event struct {
	Offset        string `json:"offset"`
	EventStreamID string `json:"eventStreamId"`
	Data          Data   `json:"data"`
}

// Seq returns the numeric value of the event's offset. Offsets assigned
// by the server always parse; a zero return means the offset was malformed.
func (e Event) Seq() uint64 {
	n, err := strconv.ParseUint(e.Offset, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseSeq converts a wire offset or cursor to its numeric value.
// The empty string and CursorStart both mean "before the first event".
func parseSeq(offset string) (uint64, error) {
	if offset == "" || offset == CursorStart {
		return 0, nil
	}
	return strconv.ParseUint(offset, 10, 64)
}

func formatSeq(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// Control is the cursor-advancing frame emitted between event batches.
type Control struct {
	StreamNextOffset string `json:"streamNextOffset"`
	UpToDate         bool   `json:"upToDate"`
}

// FrameKind discriminates tail frames.
type FrameKind string

const (
	FrameData    FrameKind = "data"
	FrameControl FrameKind = "control"
	FrameDeleted FrameKind = "deleted"
)

// Frame is one unit received from a live tail.
type Frame struct {
	Kind    FrameKind
	Events  []Event
	Control Control
}

// StreamInfo describes a stream as returned by Create and List.
type StreamInfo struct {
	Name          string     `json:"name"`
	EventStreamID string     `json:"eventStreamId"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	NextOffset    string     `json:"nextOffset"`
}

// PollResult is one page of events plus the resumption metadata
// carried in the response headers.
type PollResult struct {
	Events     []Event
	NextOffset string
	Cursor     string
	UpToDate   bool
	ETag       string
}
