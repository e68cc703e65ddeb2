package subs

import "github.com/tailstream/engine/internal/storage/events"

// FrameKind discriminates the messages a subscriber receives.
type FrameKind string

const (
	// FrameData carries one or more events in commit order.
	FrameData FrameKind = "data"

	// FrameControl carries a resumable cursor checkpoint and the
	// up-to-date marker.
	FrameControl FrameKind = "control"

	// FrameDeleted is the terminal signal sent when the stream is removed.
	FrameDeleted FrameKind = "deleted"
)

// Control is the payload of a control frame.
type Control struct {
	StreamNextOffset string `json:"streamNextOffset"`
	UpToDate         bool   `json:"upToDate"`
}

// Frame is one delivery unit pushed to a subscriber.
type Frame struct {
	Kind    FrameKind
	Events  []events.Event
	Control *Control
}

// State is the lifecycle phase of a subscription.
type State int32

const (
	StateBackfilling State = iota
	StateLive
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateBackfilling:
		return "backfilling"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
