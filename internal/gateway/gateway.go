// Package gateway provides the contract to external call-placing
// providers and its implementations.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrProviderUnavailable indicates the provider could not be reached
	// or failed internally. Transient; the caller may retry.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderRejected indicates the provider refused the call
	// (malformed number, quota, blocked destination). Permanent.
	ErrProviderRejected = errors.New("provider rejected call")
)

// Gateway places outbound calls through a telephony provider.
//
// PlaceCall is a blocking network operation and must be invoked without
// holding session or store locks. Status updates arrive asynchronously
// through an EventSink (webhook delivery for REST providers, SIP
// responses for direct SIP), at least once and possibly out of order.
type Gateway interface {
	// PlaceCall asks the provider to dial number and returns the
	// provider's call identifier. Fails with ErrProviderUnavailable or
	// ErrProviderRejected (wrapped in *PlaceCallError).
	PlaceCall(ctx context.Context, number string) (string, error)
}

// EventSink receives asynchronous provider status events. Implemented by
// the orchestrator; duplicate and out-of-order delivery is expected and
// must be tolerated by the receiver.
type EventSink interface {
	HandleProviderEvent(providerCallID, status string)
}

// PlaceCallError provides detailed information about a failed placement.
type PlaceCallError struct {
	// Number is the destination that was dialed.
	Number string

	// ProviderCode is the provider's own error/status code (0 if none).
	ProviderCode int

	// ProviderMessage is the provider's error description.
	ProviderMessage string

	// Cause is ErrProviderUnavailable or ErrProviderRejected, possibly
	// wrapping a transport error.
	Cause error
}

// Error returns the error message.
func (e *PlaceCallError) Error() string {
	if e.ProviderCode > 0 {
		return fmt.Sprintf("place call to %s: provider code %d: %s", e.Number, e.ProviderCode, e.ProviderMessage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("place call to %s: %v", e.Number, e.Cause)
	}
	return fmt.Sprintf("place call to %s: unknown error", e.Number)
}

// Unwrap returns the underlying error.
func (e *PlaceCallError) Unwrap() error {
	return e.Cause
}

// Retryable returns true if the failure is transient.
func (e *PlaceCallError) Retryable() bool {
	return errors.Is(e.Cause, ErrProviderUnavailable)
}

func unavailable(number string, cause error) *PlaceCallError {
	return &PlaceCallError{
		Number: number,
		Cause:  fmt.Errorf("%w: %w", ErrProviderUnavailable, cause),
	}
}

func rejected(number string, code int, message string) *PlaceCallError {
	return &PlaceCallError{
		Number:          number,
		ProviderCode:    code,
		ProviderMessage: message,
		Cause:           ErrProviderRejected,
	}
}
