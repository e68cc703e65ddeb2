// Package filter implements the event filter expression language used
// by poll and tail reads, e.g. `type == "prompt" && payload.text contains "hi"`.
package filter

import (
	"fmt"
)

// Filter is a compiled filter expression. The zero-value nil Filter
// matches every event.
type Filter struct {
	expr Expression
	raw  string
}

// Compile parses a filter expression. An empty expression returns a
// nil Filter, which matches everything.
func Compile(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	parsed, err := Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	return &Filter{expr: parsed, raw: expr}, nil
}

// Match evaluates the filter against the given context. Evaluation
// errors count as non-matches.
func (f *Filter) Match(ctx Context) bool {
	if f == nil || f.expr == nil {
		return true
	}
	result, err := f.expr.Evaluate(ctx)
	if err != nil {
		return false
	}
	return toBool(result)
}

// String returns the original expression text.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.raw
}
