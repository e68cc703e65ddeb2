package validation

import "regexp"

// Stream names are opaque identifiers, but the key layout and URLs both
// need a sane charset.
var streamNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ValidateStreamName checks a stream name against the allowed charset.
func ValidateStreamName(name string) error {
	if name == "" {
		return StreamNameError{Name: name, Reason: "name cannot be empty"}
	}
	if !streamNamePattern.MatchString(name) {
		return StreamNameError{Name: name, Reason: "must start alphanumeric and contain only [a-zA-Z0-9._-], max 128 chars"}
	}
	return nil
}
