package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name:     "no placeholders",
			text:     "SELECT * FROM users",
			expected: nil,
		},
		{
			name:     "single placeholder",
			text:     "SELECT * FROM users WHERE id = ${user_id}",
			expected: []string{"user_id"},
		},
		{
			name:     "multiple placeholders in order of appearance",
			text:     "SELECT * FROM orders WHERE customer_id = ${customer_id} AND total > ${min_total}",
			expected: []string{"customer_id", "min_total"},
		},
		{
			name:     "duplicate placeholder appears once",
			text:     "SELECT * FROM transfers WHERE sender = ${user_id} OR receiver = ${user_id}",
			expected: []string{"user_id"},
		},
		{
			name:     "underscore prefix",
			text:     "SELECT ${_col} FROM t",
			expected: []string{"_col"},
		},
		{
			name:     "mismatched brace is not a placeholder",
			text:     "SELECT * FROM t WHERE a = ${broken",
			expected: nil,
		},
		{
			name:     "name may not start with a digit",
			text:     "SELECT * FROM t WHERE a = ${1bad}",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractPlaceholders(tt.text))
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		params   map[string]any
		expected string
	}{
		{
			name:     "integer renders unquoted",
			text:     "SELECT * FROM users WHERE id = ${id}",
			params:   map[string]any{"id": 42},
			expected: "SELECT * FROM users WHERE id = 42",
		},
		{
			name:     "float renders unquoted",
			text:     "SELECT * FROM orders WHERE total > ${min}",
			params:   map[string]any{"min": 9.5},
			expected: "SELECT * FROM orders WHERE total > 9.5",
		},
		{
			name:     "string renders single quoted",
			text:     "SELECT * FROM users WHERE name = ${name}",
			params:   map[string]any{"name": "alice"},
			expected: "SELECT * FROM users WHERE name = 'alice'",
		},
		{
			name:     "missing parameter renders NULL",
			text:     "SELECT * FROM users WHERE id = ${userId}",
			params:   map[string]any{},
			expected: "SELECT * FROM users WHERE id = NULL",
		},
		{
			name:     "explicit nil renders NULL",
			text:     "SELECT ${v}",
			params:   map[string]any{"v": nil},
			expected: "SELECT NULL",
		},
		{
			name:     "duplicate placeholder gets same value everywhere",
			text:     "SELECT * FROM t WHERE a = ${x} OR b = ${x}",
			params:   map[string]any{"x": 7},
			expected: "SELECT * FROM t WHERE a = 7 OR b = 7",
		},
		{
			name:     "bool renders quoted",
			text:     "SELECT * FROM t WHERE flag = ${f}",
			params:   map[string]any{"f": true},
			expected: "SELECT * FROM t WHERE flag = 'true'",
		},
		{
			name:     "embedded quote is not escaped (documented gap)",
			text:     "SELECT * FROM t WHERE name = ${n}",
			params:   map[string]any{"n": "O'Brien"},
			expected: "SELECT * FROM t WHERE name = 'O'Brien'",
		},
		{
			name:     "mismatched brace left verbatim",
			text:     "SELECT * FROM t WHERE a = ${broken AND b = ${ok}",
			params:   map[string]any{"ok": 1, "broken": 2},
			expected: "SELECT * FROM t WHERE a = ${broken AND b = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Render(tt.text, tt.params))
		})
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	text := "SELECT * FROM orders WHERE customer = ${c} AND total > ${t} AND note = ${note}"
	params := map[string]any{"c": "acme", "t": 100, "note": "rush"}

	first := Render(text, params)
	for range 10 {
		assert.Equal(t, first, Render(text, params))
	}
}
