package streams

import (
	"encoding/json"
	"time"

	"github.com/tailstream/engine/internal/storage/events"
)

// Record is the durable per-stream metadata row. The event rows it
// anchors are immutable; the record itself is mutated only by the single
// active writer of its stream.
type Record struct {
	Name          string     `json:"name"`
	EventStreamID string     `json:"eventStreamId"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`

	// Watermark is the highest durably committed offset; 0 means empty.
	Watermark uint64 `json:"watermark"`
}

// Expired reports whether the record's TTL has elapsed. Records without a
// TTL never expire.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

func encodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(data, &r)
	return r, err
}

func encodeEvent(e events.Event) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEvent(data []byte) (events.Event, error) {
	var e events.Event
	err := json.Unmarshal(data, &e)
	return e, err
}
