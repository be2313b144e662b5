// Package phone validates and normalizes destination numbers.
package phone

import (
	"errors"
	"strings"
)

// Validation errors returned by Normalize. These are client input errors,
// never system failures.
var (
	// ErrMissingInput indicates an empty number after trimming.
	ErrMissingInput = errors.New("phone number required")

	// ErrInvalidFormat indicates the number is not E.164.
	ErrInvalidFormat = errors.New("phone number must be in E.164 format (+ followed by 10-15 digits)")
)

// Normalize trims surrounding whitespace and validates the number against
// E.164 syntax: a leading + followed by 10 to 15 digits, nothing else.
// Returns the normalized number on success.
func Normalize(raw string) (string, error) {
	number := strings.TrimSpace(raw)
	if number == "" {
		return "", ErrMissingInput
	}
	if number[0] != '+' {
		return "", ErrInvalidFormat
	}

	digits := number[1:]
	if len(digits) < 10 || len(digits) > 15 {
		return "", ErrInvalidFormat
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", ErrInvalidFormat
		}
	}

	return number, nil
}
