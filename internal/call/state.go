// Package call provides the call session entity and its lifecycle
// state machine.
package call

import "fmt"

// State represents the lifecycle state of a call session
type State int

const (
	// StatePending is the initial state, before the provider has been asked to dial
	StatePending State = iota
	// StateDialing is after the provider accepted the call and returned a call ID
	StateDialing
	// StateRinging is after the provider reported the destination is ringing
	StateRinging
	// StateConnected is after the callee answered and media is flowing
	StateConnected
	// StateCompleted is the terminal state for a call that ended normally
	StateCompleted
	// StateFailed is the terminal state for a call that could not complete
	StateFailed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed.
// Transitions only move forward. Ringing may be skipped entirely
// (providers are not required to report it), and a short call may be
// reported as completed without ever being seen connected.
var validTransitions = map[State][]State{
	StatePending:   {StateDialing, StateFailed},
	StateDialing:   {StateRinging, StateConnected, StateCompleted, StateFailed},
	StateRinging:   {StateConnected, StateCompleted, StateFailed},
	StateConnected: {StateCompleted, StateFailed},
	StateCompleted: {}, // Terminal state, no transitions allowed
	StateFailed:    {}, // Terminal state, no transitions allowed
}

// CanTransitionTo checks if a transition from the current state to next is valid
func (s State) CanTransitionTo(next State) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, state := range allowed {
		if state == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}
