package phone

import (
	"errors"
	"testing"
)

func TestNormalizeValid(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"+14255551234", "+14255551234"},
		{"  +14255551234  ", "+14255551234"},
		{"+442071234567", "+442071234567"},
		{"+1234567890", "+1234567890"},			// 10 digits, lower bound
		{"+123456789012345", "+123456789012345"},	// 15 digits, upper bound
	}

	for _, tt := range tests {
		got, err := Normalize(tt.input)
		if err != nil {
			t.Errorf("Normalize(%q) returned error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrMissingInput},
		{"whitespace only", "   ", ErrMissingInput},
		{"missing plus", "14255551234", ErrInvalidFormat},
		{"too short", "+123456789", ErrInvalidFormat},
		{"too long", "+1234567890123456", ErrInvalidFormat},
		{"letters", "+1425555abcd", ErrInvalidFormat},
		{"internal spaces", "+1 425 555 1234", ErrInvalidFormat},
		{"dashes", "+1-425-555-1234", ErrInvalidFormat},
		{"plus only", "+", ErrInvalidFormat},
		{"double plus", "++14255551234", ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("Normalize(%q) error = %v, want %v", tt.input, err, tt.want)
			}
		})
	}
}
