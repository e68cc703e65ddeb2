package client

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Option is a functional option for client configuration
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpc = hc
	}
}

// WithLogger sets the logger used for tail diagnostics
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// CreateOptions holds options for creating a stream
type CreateOptions struct {
	TTL           time.Duration
	EventStreamID string
}

// CreateOption is a functional option for Create
type CreateOption func(*CreateOptions)

// WithTTL sets the stream lifetime; zero means no expiry
func WithTTL(ttl time.Duration) CreateOption {
	return func(opts *CreateOptions) {
		opts.TTL = ttl
	}
}

// WithEventStreamID pins the stream incarnation identifier
func WithEventStreamID(id string) CreateOption {
	return func(opts *CreateOptions) {
		opts.EventStreamID = id
	}
}

// AppendOptions holds options for appending an event
type AppendOptions struct {
	ExpectedSeq   string
	EventStreamID string
	TTL           time.Duration
}

// AppendOption is a functional option for Append
type AppendOption func(*AppendOptions)

// WithExpectedSeq makes the append conditional on the stream's current
// watermark; a mismatch fails with a conflict carrying the next offset.
func WithExpectedSeq(seq string) AppendOption {
	return func(opts *AppendOptions) {
		opts.ExpectedSeq = seq
	}
}

// WithAppendEventStreamID sets the incarnation used if the append
// implicitly creates the stream.
func WithAppendEventStreamID(id string) AppendOption {
	return func(opts *AppendOptions) {
		opts.EventStreamID = id
	}
}

// WithAppendTTL sets the lifetime used if the append implicitly creates
// the stream.
func WithAppendTTL(ttl time.Duration) AppendOption {
	return func(opts *AppendOptions) {
		opts.TTL = ttl
	}
}

// PollOptions holds options for a snapshot read
type PollOptions struct {
	Cursor string
	Max    int
	ETag   string
}

// PollOption is a functional option for Poll
type PollOption func(*PollOptions)

// WithPollCursor resumes the read after the given offset
func WithPollCursor(cursor string) PollOption {
	return func(opts *PollOptions) {
		opts.Cursor = cursor
	}
}

// WithPollMax caps the number of events returned
func WithPollMax(max int) PollOption {
	return func(opts *PollOptions) {
		opts.Max = max
	}
}

// WithPollETag sends If-None-Match; an unchanged stream yields an
// empty result with UpToDate set.
func WithPollETag(etag string) PollOption {
	return func(opts *PollOptions) {
		opts.ETag = etag
	}
}

// TailOptions holds options for a live subscription
type TailOptions struct {
	Cursor string
}

// TailOption is a functional option for Tail and Reduce
type TailOption func(*TailOptions)

// WithCursor resumes the tail after the given offset. The default
// CursorStart replays the stream from the beginning.
func WithCursor(cursor string) TailOption {
	return func(opts *TailOptions) {
		opts.Cursor = cursor
	}
}
