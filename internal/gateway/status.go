package gateway

import "github.com/sebas/dialdesk/internal/call"

// Provider status values, Twilio-style. SIP responses are normalized to
// the same vocabulary so the orchestrator only deals with one.
const (
	StatusQueued     = "queued"
	StatusInitiated  = "initiated"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusAnswered   = "answered"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)

// MapStatus translates a provider status into the session state it
// corresponds to. ok is false for unrecognized statuses, which callers
// should ignore rather than fail on.
func MapStatus(status string) (call.State, bool) {
	switch status {
	case StatusQueued, StatusInitiated:
		return call.StateDialing, true
	case StatusRinging:
		return call.StateRinging, true
	case StatusInProgress, StatusAnswered:
		return call.StateConnected, true
	case StatusCompleted:
		return call.StateCompleted, true
	case StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return call.StateFailed, true
	}
	return 0, false
}

// FailureReason returns the human-readable reason recorded on a session
// when a provider status maps to the failed state.
func FailureReason(status string) string {
	switch status {
	case StatusBusy:
		return "destination busy"
	case StatusNoAnswer:
		return "no answer"
	case StatusCanceled:
		return "call canceled"
	case StatusFailed:
		return "provider reported failure"
	}
	return ""
}
