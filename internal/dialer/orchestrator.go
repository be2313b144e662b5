package dialer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/dialdesk/internal/call"
	"github.com/sebas/dialdesk/internal/engine"
	"github.com/sebas/dialdesk/internal/gateway"
	"github.com/sebas/dialdesk/internal/phone"
	"github.com/sebas/dialdesk/internal/store"
)

// Orchestrator implements CallService. It owns the session lifecycle:
// placement with retry, provider event application, engine hand-off on
// connect, and the durable record once a session terminates.
type Orchestrator struct {
	cfg Config
	wg  sync.WaitGroup

	// Engine outcomes can arrive before or after the terminal record is
	// written. Pending outcomes are buffered until finalize consumes
	// them; the late path updates the record in place.
	outMu    sync.Mutex
	outcomes map[string]*engine.Outcome

	// A fast provider can report a status before InitiateCall has bound
	// the provider call ID. Events for unbound IDs are held here and
	// replayed once the binding exists; genuinely unknown IDs age out.
	pendMu  sync.Mutex
	pending map[string][]pendingEvent
}

type pendingEvent struct {
	status string
	at     time.Time
}

// pendingEventTTL bounds how long an event for an unbound provider
// call ID is held before it is discarded.
const pendingEventTTL = time.Minute

// NewOrchestrator creates the call orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		outcomes: make(map[string]*engine.Outcome),
		pending:  make(map[string][]pendingEvent),
	}
}

// InitiateCall validates, creates, and places an outbound call.
func (o *Orchestrator) InitiateCall(ctx context.Context, rawNumber string) (*call.Snapshot, error) {
	number, err := phone.Normalize(rawNumber)
	if err != nil {
		slog.Warn("[Dialer] Rejected call request", "error", err)
		return nil, err
	}

	sess := call.NewSession(uuid.New().String(), number)
	o.cfg.Store.Add(sess)

	slog.Info("[Dialer] Session created", "session_id", sess.ID(), "to", number)

	providerCallID, err := o.placeWithRetry(ctx, number)
	if err != nil {
		reason := "provider unavailable"
		var pce *gateway.PlaceCallError
		if errors.As(err, &pce) && pce.ProviderMessage != "" {
			reason = pce.ProviderMessage
		} else if errors.Is(err, gateway.ErrProviderRejected) {
			reason = "provider rejected call"
		}
		if ferr := sess.Fail(reason); ferr != nil {
			slog.Error("[Dialer] Failed to mark session failed", "session_id", sess.ID(), "error", ferr)
		}
		o.finalize(sess)

		slog.Warn("[Dialer] Call placement failed",
			"session_id", sess.ID(),
			"to", number,
			"error", err,
		)
		return sess.Snapshot(), nil
	}

	// Flip to dialing before the binding goes live, so an event routed
	// through the index never finds the session still pending.
	if err := sess.StartDialing(providerCallID); err != nil {
		slog.Debug("[Dialer] Dialing transition skipped",
			"session_id", sess.ID(),
			"state", sess.State().String(),
		)
		sess.SetProviderCallID(providerCallID)
	}
	o.cfg.Store.BindProviderCallID(sess.ID(), providerCallID)
	o.replayPending(providerCallID)

	slog.Info("[Dialer] Call placed",
		"session_id", sess.ID(),
		"provider_call_id", providerCallID,
	)
	return sess.Snapshot(), nil
}

// placeWithRetry attempts placement, retrying with backoff while the
// provider reports a transient failure.
func (o *Orchestrator) placeWithRetry(ctx context.Context, number string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(o.cfg.RetryBackoff):
			}
			slog.Debug("[Dialer] Retrying placement", "to", number, "attempt", attempt)
		}

		id, err := o.cfg.Gateway.PlaceCall(ctx, number)
		if err == nil {
			return id, nil
		}
		lastErr = err

		var pce *gateway.PlaceCallError
		if errors.As(err, &pce) && !pce.Retryable() {
			return "", err
		}
		if !errors.Is(err, gateway.ErrProviderUnavailable) {
			return "", err
		}
	}
	return "", lastErr
}

// HandleProviderEvent applies a provider status event to its session.
// Delivery is at least once and possibly out of order; anything that
// does not map to a valid forward transition is ignored.
func (o *Orchestrator) HandleProviderEvent(providerCallID, status string) {
	sess, ok := o.cfg.Store.GetByProviderCallID(providerCallID)
	if !ok {
		o.stashEvent(providerCallID, status)
		return
	}

	next, ok := gateway.MapStatus(status)
	if !ok {
		slog.Debug("[Dialer] Unrecognized provider status",
			"session_id", sess.ID(),
			"status", status,
		)
		return
	}

	var err error
	if next == call.StateFailed {
		err = sess.Fail(gateway.FailureReason(status))
	} else {
		err = sess.TransitionTo(next)
	}
	if err != nil {
		slog.Debug("[Dialer] Stale provider event ignored",
			"session_id", sess.ID(),
			"status", status,
			"state", sess.State().String(),
		)
		return
	}

	slog.Info("[Dialer] Session advanced",
		"session_id", sess.ID(),
		"state", next.String(),
		"provider_status", status,
	)

	switch {
	case next == call.StateConnected:
		o.wg.Add(1)
		go o.runEngine(sess)
	case next.IsTerminal():
		o.finalize(sess)
	}
}

// stashEvent holds an event whose provider call ID has no binding yet.
// Providers do not redeliver, so a status that beats the placement
// return must not be dropped. Events for IDs that never get bound
// (sessions already purged) expire after pendingEventTTL.
func (o *Orchestrator) stashEvent(providerCallID, status string) {
	o.pendMu.Lock()
	cutoff := time.Now().Add(-pendingEventTTL)
	for id, evs := range o.pending {
		kept := evs[:0]
		for _, ev := range evs {
			if ev.at.After(cutoff) {
				kept = append(kept, ev)
			}
		}
		if len(kept) == 0 {
			delete(o.pending, id)
		} else {
			o.pending[id] = kept
		}
	}
	o.pending[providerCallID] = append(o.pending[providerCallID], pendingEvent{status: status, at: time.Now()})
	o.pendMu.Unlock()

	slog.Debug("[Dialer] Event for unknown call held", "provider_call_id", providerCallID, "status", status)

	// The binding may have landed while the event was being held; if so
	// the replay in InitiateCall can already have drained.
	if _, ok := o.cfg.Store.GetByProviderCallID(providerCallID); ok {
		o.replayPending(providerCallID)
	}
}

// replayPending applies events that arrived before the provider call
// ID was bound.
func (o *Orchestrator) replayPending(providerCallID string) {
	o.pendMu.Lock()
	evs := o.pending[providerCallID]
	delete(o.pending, providerCallID)
	o.pendMu.Unlock()

	for _, ev := range evs {
		o.HandleProviderEvent(providerCallID, ev.status)
	}
}

// GetStatus returns the current snapshot of a session.
func (o *Orchestrator) GetStatus(sessionID string) (*call.Snapshot, error) {
	sess, ok := o.cfg.Store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Snapshot(), nil
}

// Wait blocks until background engine runs and record writes finish.
// Used during shutdown and in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// runEngine hands a connected call to the conversation engine and
// stores the outcome.
func (o *Orchestrator) runEngine(sess *call.Session) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EngineTimeout)
	defer cancel()

	snap := sess.Snapshot()
	outcome, err := o.cfg.Engine.Run(ctx, engine.CallInfo{
		SessionID:      snap.SessionID,
		ProviderCallID: snap.ProviderCallID,
		PhoneNumber:    snap.PhoneNumber,
	})
	if err != nil {
		slog.Error("[Dialer] Conversation engine failed",
			"session_id", snap.SessionID,
			"error", err,
		)
		return
	}
	if outcome == nil || outcome.Disposition == "" {
		return
	}

	// finalize holds outMu across the record insert, so under the lock
	// either the record is already visible and gets updated in place,
	// or finalize has not run yet and will consume the buffered outcome.
	// Nothing stays buffered for a session whose record exists.
	o.outMu.Lock()
	rec, rerr := o.cfg.Records.GetBySessionID(ctx, snap.SessionID)
	if rerr != nil || rec == nil {
		o.outcomes[snap.SessionID] = outcome
		o.outMu.Unlock()
		if rerr != nil {
			slog.Error("[Dialer] Failed to look up call record",
				"session_id", snap.SessionID,
				"error", rerr,
			)
		}
	} else {
		o.outMu.Unlock()
		if err := o.cfg.Records.SetEngineOutcome(ctx, snap.SessionID, outcome.Disposition, outcome.Summary); err != nil {
			slog.Error("[Dialer] Failed to store engine outcome",
				"session_id", snap.SessionID,
				"error", err,
			)
		}
	}
	slog.Info("[Dialer] Conversation finished",
		"session_id", snap.SessionID,
		"disposition", outcome.Disposition,
	)
}

// finalize writes the durable record for a terminated session.
func (o *Orchestrator) finalize(sess *call.Session) {
	snap := sess.Snapshot()
	rec := &store.CallRecord{
		ID:             uuid.New().String(),
		SessionID:      snap.SessionID,
		ProviderCallID: snap.ProviderCallID,
		PhoneNumber:    snap.PhoneNumber,
		Disposition:    snap.State.String(),
		Error:          snap.Error,
		StartedAt:      snap.CreatedAt,
		EndedAt:        snap.UpdatedAt,
		DurationSec:    int(snap.UpdatedAt.Sub(snap.CreatedAt).Seconds()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The insert stays under outMu so runEngine can tell apart "record
	// exists, update it" from "record pending, buffer the outcome".
	o.outMu.Lock()
	if outcome, ok := o.outcomes[snap.SessionID]; ok {
		rec.EngineOutcome = outcome.Disposition
		rec.EngineSummary = outcome.Summary
		delete(o.outcomes, snap.SessionID)
	}
	if err := o.cfg.Records.Create(ctx, rec); err != nil {
		slog.Error("[Dialer] Failed to write call record",
			"session_id", snap.SessionID,
			"error", err,
		)
	}
	o.outMu.Unlock()
}

// Ensure Orchestrator implements CallService
var _ CallService = (*Orchestrator)(nil)
