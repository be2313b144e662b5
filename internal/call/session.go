package call

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidState indicates an operation was attempted from a state that
// does not allow it.
var ErrInvalidState = errors.New("invalid state for operation")

// StateTransitionError indicates an invalid state transition was attempted.
type StateTransitionError struct {
	SessionID string
	From      State
	To        State
}

// Error returns the error message.
func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("session %s: cannot transition from %s to %s", e.SessionID, e.From, e.To)
}

// Unwrap returns ErrInvalidState.
func (e *StateTransitionError) Unwrap() error {
	return ErrInvalidState
}

// Session is a single outbound call attempt with full lifecycle tracking.
// All mutation goes through methods that hold the session's lock, so
// transitions are atomic and strictly forward-moving even under
// concurrent provider events.
type Session struct {
	mu sync.RWMutex

	// Identification
	sessionID      string
	phoneNumber    string // immutable after creation
	providerCallID string // set once dialing starts

	// State machine
	state          State
	failureReason  string // set only when state is StateFailed
	createdAt      time.Time
	updatedAt      time.Time
}

// Snapshot is an immutable copy of a session's observable state, used by
// read paths so that polling never contends with in-flight transitions.
type Snapshot struct {
	SessionID      string
	PhoneNumber    string
	ProviderCallID string
	State          State
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewSession creates a session in the pending state.
func NewSession(sessionID, phoneNumber string) *Session {
	now := time.Now()
	return &Session{
		sessionID:   sessionID,
		phoneNumber: phoneNumber,
		state:       StatePending,
		createdAt:   now,
		updatedAt:   now,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.sessionID
}

// PhoneNumber returns the validated destination number.
func (s *Session) PhoneNumber() string {
	return s.phoneNumber
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ProviderCallID returns the provider call identifier, or "" before dialing.
func (s *Session) ProviderCallID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providerCallID
}

// SetProviderCallID stores the identifier assigned by the telephony provider.
func (s *Session) SetProviderCallID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providerCallID = id
	s.updatedAt = time.Now()
}

// StartDialing moves the session to dialing and records the provider
// call identifier in a single step, so a reader never observes one
// without the other.
func (s *Session) StartDialing(providerCallID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CanTransitionTo(StateDialing) {
		return &StateTransitionError{SessionID: s.sessionID, From: s.state, To: StateDialing}
	}

	s.state = StateDialing
	s.providerCallID = providerCallID
	s.updatedAt = time.Now()
	return nil
}

// TransitionTo attempts to move the session to a new state. Invalid
// transitions (backward, duplicate, or out of a terminal state) return a
// StateTransitionError and leave the session untouched.
func (s *Session) TransitionTo(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CanTransitionTo(next) {
		return &StateTransitionError{SessionID: s.sessionID, From: s.state, To: next}
	}

	s.state = next
	s.updatedAt = time.Now()
	return nil
}

// Fail moves the session to the failed state and records the reason.
// Fails like any other transition if the session is already terminal.
func (s *Session) Fail(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CanTransitionTo(StateFailed) {
		return &StateTransitionError{SessionID: s.sessionID, From: s.state, To: StateFailed}
	}

	s.state = StateFailed
	s.failureReason = reason
	s.updatedAt = time.Now()
	return nil
}

// IsTerminal returns true if the session is in a terminal state.
func (s *Session) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsTerminal()
}

// UpdatedAt returns the time of the last state change.
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Snapshot returns a point-in-time copy of the session.
func (s *Session) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{
		SessionID:      s.sessionID,
		PhoneNumber:    s.phoneNumber,
		ProviderCallID: s.providerCallID,
		State:          s.state,
		Error:          s.failureReason,
		CreatedAt:      s.createdAt,
		UpdatedAt:      s.updatedAt,
	}
}
