package client

import (
	"fmt"
	"net/http"
)

// Error represents an SDK error
type Error struct {
	StatusCode int
	Message    string
	// NextOffset carries the server's current next offset on a
	// sequence conflict, so callers can rebase and retry.
	NextOffset string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d: %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the stream does not exist or was deleted
func (e *Error) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsConflict returns true if an optimistic append lost the sequence race
func (e *Error) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsInvalid returns true if the request was rejected by validation
func (e *Error) IsInvalid() bool {
	return e.StatusCode == http.StatusBadRequest
}
