package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeConfig(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected map[string]any
	}{
		{
			name:     "json object passes through",
			raw:      `{"destination": "s3://backups", "compress": true}`,
			expected: map[string]any{"destination": "s3://backups", "compress": true},
		},
		{
			name:     "empty object",
			raw:      `{}`,
			expected: map[string]any{},
		},
		{
			name:     "array wrapped under values",
			raw:      `[1, 2, 3]`,
			expected: map[string]any{"values": []any{float64(1), float64(2), float64(3)}},
		},
		{
			name:     "string holding serialized object is unwrapped",
			raw:      `"{\"overdue_days\": 7}"`,
			expected: map[string]any{"overdue_days": float64(7)},
		},
		{
			name:     "string holding serialized array is unwrapped and wrapped",
			raw:      `"[\"catalog\", \"members\"]"`,
			expected: map[string]any{"values": []any{"catalog", "members"}},
		},
		{
			name:     "string holding plain text degrades to empty",
			raw:      `"not json at all"`,
			expected: map[string]any{},
		},
		{
			name:     "string inside string is not unwrapped twice",
			raw:      `"\"{\\\"a\\\": 1}\""`,
			expected: map[string]any{},
		},
		{
			name:     "malformed json degrades to empty",
			raw:      `{broken`,
			expected: map[string]any{},
		},
		{
			name:     "json null degrades to empty",
			raw:      `null`,
			expected: map[string]any{},
		},
		{
			name:     "number degrades to empty",
			raw:      `42`,
			expected: map[string]any{},
		},
		{
			name:     "boolean degrades to empty",
			raw:      `true`,
			expected: map[string]any{},
		},
		{
			name:     "empty input degrades to empty",
			raw:      ``,
			expected: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeConfig(json.RawMessage(tt.raw))
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestNormalizeConfig_NilRaw(t *testing.T) {
	got := NormalizeConfig(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
