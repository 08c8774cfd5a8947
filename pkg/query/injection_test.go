package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenParameter(t *testing.T) {
	tests := []struct {
		name    string
		param   string
		value   any
		flagged bool
	}{
		{
			name:    "plain id is clean",
			param:   "customer_id",
			value:   "12345",
			flagged: false,
		},
		{
			name:    "classic break-out flagged",
			param:   "search",
			value:   "'; DROP TABLE users--",
			flagged: true,
		},
		{
			name:    "tautology flagged",
			param:   "name",
			value:   "' OR '1'='1",
			flagged: true,
		},
		{
			name:    "integer is never screened",
			param:   "limit",
			value:   100,
			flagged: false,
		},
		{
			name:    "nil is never screened",
			param:   "note",
			value:   nil,
			flagged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := ScreenParameter(tt.param, tt.value)
			if tt.flagged {
				require.NotNil(t, check)
				assert.Equal(t, tt.param, check.ParamName)
				assert.NotEmpty(t, check.Fingerprint)
			} else {
				assert.Nil(t, check)
			}
		})
	}
}

func TestScreenParameters(t *testing.T) {
	params := map[string]any{
		"customer_id": "12345",
		"search":      "'; DROP TABLE users--",
		"limit":       100,
	}

	flagged := ScreenParameters(params)
	require.Len(t, flagged, 1)
	assert.Equal(t, "search", flagged[0].ParamName)
}
