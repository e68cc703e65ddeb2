package streams

import "fmt"

// StreamNotFoundError indicates an unknown, deleted, or expired stream.
// Append, read, and subscribe all return it uniformly.
type StreamNotFoundError struct {
	Name string
}

func (e StreamNotFoundError) Error() string {
	return fmt.Sprintf("stream not found: %s", e.Name)
}

// SequenceConflictError indicates an append presented a stale optimistic
// write token. The caller must refetch the current offset and retry.
type SequenceConflictError struct {
	Name     string
	Expected uint64
	Actual   uint64
}

func (e SequenceConflictError) Error() string {
	return fmt.Sprintf("sequence conflict on stream %s: token %d, watermark %d", e.Name, e.Expected, e.Actual)
}

// InvalidCursorError indicates an unparseable consumer cursor.
type InvalidCursorError struct {
	Cursor string
	Reason string
}

func (e InvalidCursorError) Error() string {
	return fmt.Sprintf("invalid cursor %q: %s", e.Cursor, e.Reason)
}

// WriteError indicates a persistence failure during append; retries were
// exhausted and no offset became visible.
type WriteError struct {
	Name string
	Err  error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("failed to write to stream %s: %v", e.Name, e.Err)
}

func (e WriteError) Unwrap() error {
	return e.Err
}

// ReadError indicates a persistence failure while reading a stream.
type ReadError struct {
	Name string
	Err  error
}

func (e ReadError) Error() string {
	return fmt.Sprintf("failed to read from stream %s: %v", e.Name, e.Err)
}

func (e ReadError) Unwrap() error {
	return e.Err
}
