package dialer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sebas/dialdesk/internal/call"
	"github.com/sebas/dialdesk/internal/engine"
	"github.com/sebas/dialdesk/internal/gateway"
	"github.com/sebas/dialdesk/internal/phone"
	"github.com/sebas/dialdesk/internal/store"
)

// fakeGateway scripts placement results per call.
type fakeGateway struct {
	mu      sync.Mutex
	calls   int
	results []fakeResult
}

type fakeResult struct {
	id  string
	err error
}

func (f *fakeGateway) PlaceCall(ctx context.Context, number string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.results) {
		return "", errors.New("unscripted call")
	}
	res := f.results[f.calls]
	f.calls++
	return res.id, res.err
}

func (f *fakeGateway) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func rejectedErr(number string) error {
	return &gateway.PlaceCallError{
		Number:          number,
		ProviderCode:    21217,
		ProviderMessage: "invalid destination",
		Cause:           gateway.ErrProviderRejected,
	}
}

func unavailableErr(number string) error {
	return &gateway.PlaceCallError{
		Number: number,
		Cause:  gateway.ErrProviderUnavailable,
	}
}

func newTestOrchestrator(t *testing.T, gw gateway.Gateway) (*Orchestrator, *store.SessionStore, *store.MemoryRecords) {
	t.Helper()
	sessions := store.NewSessionStore(store.DefaultSessionStoreConfig())
	t.Cleanup(sessions.Close)
	records := store.NewMemoryRecords()

	o := NewOrchestrator(Config{
		Gateway:      gw,
		Store:        sessions,
		Records:      records,
		RetryBackoff: time.Millisecond,
	})
	return o, sessions, records
}

func TestInitiateCallSuccess(t *testing.T) {
	gw := &fakeGateway{results: []fakeResult{{id: "CA1"}}}
	o, sessions, _ := newTestOrchestrator(t, gw)

	snap, err := o.InitiateCall(context.Background(), " +14255551234 ")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != call.StateDialing {
		t.Errorf("state = %v, want dialing", snap.State)
	}
	if snap.ProviderCallID != "CA1" {
		t.Errorf("provider call ID = %q, want CA1", snap.ProviderCallID)
	}
	if snap.PhoneNumber != "+14255551234" {
		t.Errorf("number = %q, want normalized form", snap.PhoneNumber)
	}

	if _, ok := sessions.GetByProviderCallID("CA1"); !ok {
		t.Error("provider call ID not indexed")
	}
}

func TestInitiateCallInvalidNumber(t *testing.T) {
	gw := &fakeGateway{}
	o, sessions, _ := newTestOrchestrator(t, gw)

	_, err := o.InitiateCall(context.Background(), "not-a-number")
	if !errors.Is(err, phone.ErrInvalidFormat) {
		t.Fatalf("err = %v, want ErrInvalidFormat", err)
	}
	if gw.attempts() != 0 {
		t.Error("gateway called for invalid number")
	}
	if sessions.Count() != 0 {
		t.Error("session created for invalid number")
	}
}

func TestInitiateCallProviderRejected(t *testing.T) {
	gw := &fakeGateway{results: []fakeResult{{err: rejectedErr("+14255551234")}}}
	o, _, records := newTestOrchestrator(t, gw)

	snap, err := o.InitiateCall(context.Background(), "+14255551234")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != call.StateFailed {
		t.Errorf("state = %v, want failed", snap.State)
	}
	if snap.Error != "invalid destination" {
		t.Errorf("error = %q", snap.Error)
	}
	if snap.SessionID == "" {
		t.Error("failed session has no ID")
	}
	if gw.attempts() != 1 {
		t.Errorf("attempts = %d, permanent rejection must not retry", gw.attempts())
	}

	rec, rerr := records.GetBySessionID(context.Background(), snap.SessionID)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if rec == nil || rec.Disposition != "failed" {
		t.Errorf("call record = %+v", rec)
	}
}

func TestInitiateCallRetriesTransientFailure(t *testing.T) {
	gw := &fakeGateway{results: []fakeResult{
		{err: unavailableErr("+14255551234")},
		{err: unavailableErr("+14255551234")},
		{id: "CA2"},
	}}
	o, _, _ := newTestOrchestrator(t, gw)

	snap, err := o.InitiateCall(context.Background(), "+14255551234")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != call.StateDialing {
		t.Errorf("state = %v, want dialing after retry", snap.State)
	}
	if gw.attempts() != 3 {
		t.Errorf("attempts = %d, want 3", gw.attempts())
	}
}

func TestInitiateCallExhaustsRetries(t *testing.T) {
	gw := &fakeGateway{results: []fakeResult{
		{err: unavailableErr("+14255551234")},
		{err: unavailableErr("+14255551234")},
		{err: unavailableErr("+14255551234")},
	}}
	o, _, _ := newTestOrchestrator(t, gw)

	snap, err := o.InitiateCall(context.Background(), "+14255551234")
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != call.StateFailed {
		t.Errorf("state = %v, want failed", snap.State)
	}
	if gw.attempts() != 3 {
		t.Errorf("attempts = %d, want 3", gw.attempts())
	}
}

func TestProviderEventLifecycle(t *testing.T) {
	gw := &fakeGateway{results: []fakeResult{{id: "CA1"}}}
	o, _, records := newTestOrchestrator(t, gw)

	snap, err := o.InitiateCall(context.Background(), "+14255551234")
	if err != nil {
		t.Fatal(err)
	}

	o.HandleProviderEvent("CA1", gateway.StatusRinging)
	o.HandleProviderEvent("CA1", gateway.StatusAnswered)
	o.HandleProviderEvent("CA1", gateway.StatusCompleted)
	o.Wait()

	got, err := o.GetStatus(snap.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != call.StateCompleted {
		t.Errorf("state = %v, want completed", got.State)
	}

	rec, err := records.GetBySessionID(context.Background(), snap.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Disposition != "completed" {
		t.Errorf("call record = %+v", rec)
	}
}

func TestProviderEventBusy(t *testing.T) {
	gw := &fakeGateway{results: []fakeResult{{id: "CA1"}}}
	o, _, _ := newTestOrchestrator(t, gw)

	snap, err := o.InitiateCall(context.Background(), "+14255551234")
	if err != nil {
		t.Fatal(err)
	}

	o.HandleProviderEvent("CA1", gateway.StatusBusy)

	got, err := o.GetStatus(snap.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != call.StateFailed {
		t.Errorf("state = %v, want failed", got.State)
	}
	if got.Error != "destination busy" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestProviderEventIdempotentAndOutOfOrder(t *testing.T) {
	gw := &fakeGateway{results: []fakeResult{{id: "CA1"}}}
	o, _, _ := newTestOrchestrator(t, gw)

	snap, err := o.InitiateCall(context.Background(), "+14255551234")
	if err != nil {
		t.Fatal(err)
	}

	o.HandleProviderEvent("CA1", gateway.StatusCompleted)
	// Duplicate and late events must not move the session.
	o.HandleProviderEvent("CA1", gateway.StatusCompleted)
	o.HandleProviderEvent("CA1", gateway.StatusRinging)
	o.HandleProviderEvent("CA1", gateway.StatusBusy)

	got, err := o.GetStatus(snap.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != call.StateCompleted {
		t.Errorf("state = %v, want completed", got.State)
	}
	if got.Error != "" {
		t.Errorf("error = %q, late busy event must not set a reason", got.Error)
	}
}

func TestProviderEventUnknownCallIgnored(t *testing.T) {
	gw := &fakeGateway{}
	o, _, _ := newTestOrchestrator(t, gw)

	// Must not panic or create state.
	o.HandleProviderEvent("CA-unknown", gateway.StatusRinging)
	o.HandleProviderEvent("CA-unknown", "nonsense")
}

func TestGetStatusUnknownSession(t *testing.T) {
	gw := &fakeGateway{}
	o, _, _ := newTestOrchestrator(t, gw)

	if _, err := o.GetStatus("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

// recordingEngine captures the call info handed to it.
type recordingEngine struct {
	mu   sync.Mutex
	info *engine.CallInfo
}

func (e *recordingEngine) Run(ctx context.Context, info engine.CallInfo) (*engine.Outcome, error) {
	e.mu.Lock()
	e.info = &info
	e.mu.Unlock()
	return &engine.Outcome{Disposition: "interested", Summary: "wants a demo"}, nil
}

func TestConnectedCallRunsEngine(t *testing.T) {
	gw := &fakeGateway{results: []fakeResult{{id: "CA1"}}}
	eng := &recordingEngine{}

	sessions := store.NewSessionStore(store.DefaultSessionStoreConfig())
	t.Cleanup(sessions.Close)
	records := store.NewMemoryRecords()
	o := NewOrchestrator(Config{
		Gateway:      gw,
		Store:        sessions,
		Records:      records,
		Engine:       eng,
		RetryBackoff: time.Millisecond,
	})

	snap, err := o.InitiateCall(context.Background(), "+14255551234")
	if err != nil {
		t.Fatal(err)
	}

	o.HandleProviderEvent("CA1", gateway.StatusAnswered)
	o.HandleProviderEvent("CA1", gateway.StatusCompleted)
	o.Wait()

	eng.mu.Lock()
	info := eng.info
	eng.mu.Unlock()
	if info == nil {
		t.Fatal("engine never ran")
	}
	if info.SessionID != snap.SessionID || info.ProviderCallID != "CA1" {
		t.Errorf("engine call info = %+v", info)
	}

	rec, err := records.GetBySessionID(context.Background(), snap.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.EngineOutcome != "interested" {
		t.Errorf("engine outcome not stored: %+v", rec)
	}
}

// gatedEngine blocks until released, so tests can control whether the
// engine returns before or after the call terminates.
type gatedEngine struct {
	release chan struct{}
	outcome *engine.Outcome
}

func (e *gatedEngine) Run(ctx context.Context, info engine.CallInfo) (*engine.Outcome, error) {
	<-e.release
	return e.outcome, nil
}

func TestEngineOutcomeAfterSessionTerminated(t *testing.T) {
	gw := &fakeGateway{results: []fakeResult{{id: "CA1"}}}
	eng := &gatedEngine{
		release: make(chan struct{}),
		outcome: &engine.Outcome{Disposition: "interested", Summary: "wants a demo"},
	}

	sessions := store.NewSessionStore(store.DefaultSessionStoreConfig())
	t.Cleanup(sessions.Close)
	records := store.NewMemoryRecords()
	o := NewOrchestrator(Config{
		Gateway:      gw,
		Store:        sessions,
		Records:      records,
		Engine:       eng,
		RetryBackoff: time.Millisecond,
	})

	snap, err := o.InitiateCall(context.Background(), "+14255551234")
	if err != nil {
		t.Fatal(err)
	}

	// The call ends while the engine is still talking; the record is
	// written first and the outcome attaches afterwards.
	o.HandleProviderEvent("CA1", gateway.StatusAnswered)
	o.HandleProviderEvent("CA1", gateway.StatusCompleted)
	close(eng.release)
	o.Wait()

	rec, err := records.GetBySessionID(context.Background(), snap.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.EngineOutcome != "interested" || rec.EngineSummary != "wants a demo" {
		t.Errorf("late engine outcome not attached: %+v", rec)
	}

	o.outMu.Lock()
	buffered := len(o.outcomes)
	o.outMu.Unlock()
	if buffered != 0 {
		t.Errorf("outcome buffer holds %d entries after the record was updated", buffered)
	}
}

// eagerGateway reports a final status to the event sink before
// PlaceCall returns, the way a fast provider can.
type eagerGateway struct {
	sink   gateway.EventSink
	status string
}

func (g *eagerGateway) PlaceCall(ctx context.Context, number string) (string, error) {
	g.sink.HandleProviderEvent("CA1", g.status)
	return "CA1", nil
}

func TestProviderEventBeforePlacementReturns(t *testing.T) {
	gw := &eagerGateway{status: gateway.StatusCompleted}
	sessions := store.NewSessionStore(store.DefaultSessionStoreConfig())
	t.Cleanup(sessions.Close)
	records := store.NewMemoryRecords()
	o := NewOrchestrator(Config{
		Gateway:      gw,
		Store:        sessions,
		Records:      records,
		RetryBackoff: time.Millisecond,
	})
	gw.sink = o

	snap, err := o.InitiateCall(context.Background(), "+14255551234")
	if err != nil {
		t.Fatal(err)
	}

	got, err := o.GetStatus(snap.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != call.StateCompleted {
		t.Errorf("state = %v, want completed after replayed event", got.State)
	}

	rec, err := records.GetBySessionID(context.Background(), snap.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Disposition != "completed" {
		t.Errorf("call record = %+v", rec)
	}
}
