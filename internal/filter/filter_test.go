package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		ctx      Context
		expected bool
	}{
		{
			name:     "simple equality",
			expr:     `type == "prompt"`,
			ctx:      Context{"type": "prompt"},
			expected: true,
		},
		{
			name:     "simple inequality",
			expr:     `type != "session-create"`,
			ctx:      Context{"type": "prompt"},
			expected: true,
		},
		{
			name:     "numeric comparison",
			expr:     "offset > 18",
			ctx:      Context{"offset": uint64(20)},
			expected: true,
		},
		{
			name:     "numeric not lexicographic",
			expr:     "offset > 9",
			ctx:      Context{"offset": uint64(10)},
			expected: true,
		},
		{
			name:     "numeric string widens",
			expr:     "offset <= 5",
			ctx:      Context{"offset": "5"},
			expected: true,
		},
		{
			name:     "field access",
			expr:     `payload.text == "hello"`,
			ctx:      Context{"payload": map[string]interface{}{"text": "hello"}},
			expected: true,
		},
		{
			name: "nested field access",
			expr: `payload.meta.source == "cli"`,
			ctx: Context{"payload": map[string]interface{}{
				"meta": map[string]interface{}{"source": "cli"},
			}},
			expected: true,
		},
		{
			name:     "logical and",
			expr:     `type == "prompt" && offset > 18`,
			ctx:      Context{"type": "prompt", "offset": uint64(20)},
			expected: true,
		},
		{
			name:     "logical or",
			expr:     `type == "session-create" || offset > 18`,
			ctx:      Context{"type": "prompt", "offset": uint64(20)},
			expected: true,
		},
		{
			name:     "parentheses group",
			expr:     `(type == "prompt" || type == "note") && offset < 5`,
			ctx:      Context{"type": "note", "offset": uint64(3)},
			expected: true,
		},
		{
			name:     "contains",
			expr:     `payload.text contains "urgent"`,
			ctx:      Context{"payload": map[string]interface{}{"text": "urgent: fix this"}},
			expected: true,
		},
		{
			name:     "boolean literal",
			expr:     "payload.done == true",
			ctx:      Context{"payload": map[string]interface{}{"done": true}},
			expected: true,
		},
		{
			name:     "null comparison",
			expr:     "payload.text == null",
			ctx:      Context{"payload": map[string]interface{}{}},
			expected: true,
		},
		{
			name:     "missing field is null",
			expr:     `payload.text == "hello"`,
			ctx:      Context{"type": "prompt"},
			expected: false,
		},
		{
			name:     "field access through scalar is null",
			expr:     `type.inner == "x"`,
			ctx:      Context{"type": "prompt"},
			expected: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Parse(tc.expr)
			require.NoError(t, err)

			result, err := expr.Evaluate(tc.ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func TestParseErrors(t *testing.T) {
	exprs := []string{
		"type ==",
		"type == )",
		"(type == \"prompt\"",
		"payload.",
		"type == \"prompt\" extra",
	}
	for _, expr := range exprs {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

func TestCompile(t *testing.T) {
	f, err := Compile("")
	require.NoError(t, err)
	require.Nil(t, f)
	assert.True(t, f.Match(Context{"type": "anything"}), "nil filter matches everything")

	f, err = Compile(`type == "prompt"`)
	require.NoError(t, err)
	assert.True(t, f.Match(Context{"type": "prompt"}))
	assert.False(t, f.Match(Context{"type": "session-create"}))
	assert.Equal(t, `type == "prompt"`, f.String())

	_, err = Compile("type ==")
	assert.Error(t, err)
}
