package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	order := []string{"name", "email", "phone", "service"}

	tests := []struct {
		name      string
		message   string
		collected map[string]string
		want      FieldUpdate
	}{
		{
			name:    "short answer fills first pending field",
			message: "John Smith",
			want:    FieldUpdate{FieldID: "name", Value: "John Smith"},
		},
		{
			name:    "email wins over positional assignment",
			message: "you can reach me at jane.doe@example.com",
			want:    FieldUpdate{FieldID: "email", Value: "jane.doe@example.com"},
		},
		{
			name:    "phone with dashes",
			message: "555-123-4567",
			want:    FieldUpdate{FieldID: "phone", Value: "555-123-4567"},
		},
		{
			name:    "phone with dots",
			message: "call 555.123.4567 please",
			want:    FieldUpdate{FieldID: "phone", Value: "555.123.4567"},
		},
		{
			name:    "phone without separators",
			message: "5551234567",
			want:    FieldUpdate{FieldID: "phone", Value: "5551234567"},
		},
		{
			name:      "email already collected is not reassigned",
			message:   "other@example.com",
			collected: map[string]string{"email": "first@example.com"},
			want:      FieldUpdate{},
		},
		{
			name:    "long message without patterns is ignored",
			message: "I would really like to talk about my kitchen",
			want:    FieldUpdate{},
		},
		{
			name:      "four words fill the next pending field",
			message:   "a full kitchen remodel",
			collected: map[string]string{"name": "J", "email": "j@x.io", "phone": "5551234567"},
			want:      FieldUpdate{FieldID: "service", Value: "a full kitchen remodel"},
		},
		{
			name:    "blank message",
			message: "   ",
			want:    FieldUpdate{},
		},
		{
			name:    "surrounding whitespace is trimmed",
			message: "  Jane  ",
			want:    FieldUpdate{FieldID: "name", Value: "Jane"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collected := tt.collected
			if collected == nil {
				collected = map[string]string{}
			}
			got := Extract(tt.message, collected, order)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.FieldID != "", got.OK())
		})
	}
}

func TestExtractEmailNotConfigured(t *testing.T) {
	got := Extract("me@example.com", map[string]string{}, []string{"name", "company"})
	assert.False(t, got.OK(), "pattern matches are never assigned positionally")
}

func TestExtractPatternsOverwrites(t *testing.T) {
	updates := extractPatterns("new email new@example.com and 555 is old, use 444-555-6666",
		[]string{"name", "email", "phone"})
	assert.Equal(t, []FieldUpdate{
		{FieldID: "email", Value: "new@example.com"},
		{FieldID: "phone", Value: "444-555-6666"},
	}, updates)

	assert.Empty(t, extractPatterns("nothing here", []string{"email", "phone"}))
	assert.Empty(t, extractPatterns("x@y.io", []string{"name"}))
}
