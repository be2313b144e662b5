// Package engine integrates the external conversation engine that runs
// the voice interaction once a call connects.
package engine

import "context"

// CallInfo identifies a connected call handed to the engine.
type CallInfo struct {
	SessionID      string `json:"session_id"`
	ProviderCallID string `json:"provider_call_id"`
	PhoneNumber    string `json:"phone_number"`
}

// Outcome is the engine's result after the conversation finishes.
type Outcome struct {
	Disposition string `json:"disposition"` // e.g. "interested", "follow_up", "not_interested"
	Summary     string `json:"summary"`
}

// Engine drives the conversation on a connected call. Run blocks until
// the conversation finishes or ctx expires.
type Engine interface {
	Run(ctx context.Context, info CallInfo) (*Outcome, error)
}

// NoopEngine is used when no conversation engine is configured.
type NoopEngine struct{}

// Run returns an empty outcome immediately.
func (NoopEngine) Run(ctx context.Context, info CallInfo) (*Outcome, error) {
	return &Outcome{}, nil
}
