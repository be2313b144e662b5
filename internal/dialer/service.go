// Package dialer orchestrates outbound call sessions from initiation
// through terminal state.
package dialer

import (
	"context"
	"errors"
	"time"

	"github.com/sebas/dialdesk/internal/call"
	"github.com/sebas/dialdesk/internal/engine"
	"github.com/sebas/dialdesk/internal/gateway"
	"github.com/sebas/dialdesk/internal/store"
)

// ErrSessionNotFound indicates a status query for an unknown or already
// evicted session.
var ErrSessionNotFound = errors.New("call session not found")

// CallService is the main interface for managing outbound calls.
type CallService interface {
	// InitiateCall validates the number, creates a session, and asks the
	// provider to dial. The returned snapshot reflects the session after
	// placement, including a failed session when the provider refused.
	// Validation failures return an error and no session.
	InitiateCall(ctx context.Context, rawNumber string) (*call.Snapshot, error)

	// HandleProviderEvent applies an asynchronous provider status event.
	// Unknown call IDs, unknown statuses, and stale transitions are
	// ignored.
	HandleProviderEvent(providerCallID, status string)

	// GetStatus returns the current snapshot of a session.
	GetStatus(sessionID string) (*call.Snapshot, error)
}

// Config holds orchestrator dependencies and tuning.
type Config struct {
	Gateway gateway.Gateway
	Store   *store.SessionStore
	Records store.RecordRepository
	Engine  engine.Engine

	// RetryAttempts is the number of placement attempts when the
	// provider is unavailable. Defaults to 3.
	RetryAttempts int

	// RetryBackoff is the pause before each retry. Defaults to 500ms.
	RetryBackoff time.Duration

	// EngineTimeout bounds a single conversation. Defaults to 10m.
	EngineTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.EngineTimeout <= 0 {
		c.EngineTimeout = 10 * time.Minute
	}
	if c.Engine == nil {
		c.Engine = engine.NoopEngine{}
	}
	if c.Records == nil {
		c.Records = store.NewMemoryRecords()
	}
}
