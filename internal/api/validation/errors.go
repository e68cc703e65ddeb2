package validation

import "fmt"

// ValidationError rejects a malformed event before any offset is
// assigned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StreamNameError rejects an unusable stream name.
type StreamNameError struct {
	Name   string
	Reason string
}

func (e StreamNameError) Error() string {
	return fmt.Sprintf("invalid stream name %q: %s", e.Name, e.Reason)
}
