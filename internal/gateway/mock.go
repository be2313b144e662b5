package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway simulates a provider for local development. Every call is
// accepted and walks through ringing, answered, and completed on a
// timer. Numbers ending in "0000" simulate a busy destination.
type MockGateway struct {
	sink EventSink

	// StepDelay is the pause between simulated events. Defaults to 2s.
	StepDelay time.Duration

	wg sync.WaitGroup
}

// NewMockGateway creates a simulated provider.
func NewMockGateway() *MockGateway {
	return &MockGateway{StepDelay: 2 * time.Second}
}

// SetEventSink registers the receiver for simulated status events.
func (g *MockGateway) SetEventSink(sink EventSink) {
	g.sink = sink
}

// PlaceCall accepts the call and schedules a simulated progression.
func (g *MockGateway) PlaceCall(ctx context.Context, number string) (string, error) {
	callID := "MOCK-" + uuid.New().String()
	slog.Info("[MockGateway] Simulating call", "to", number, "provider_call_id", callID)

	busy := strings.HasSuffix(number, "0000")
	g.wg.Add(1)
	go g.run(callID, busy)
	return callID, nil
}

func (g *MockGateway) run(callID string, busy bool) {
	defer g.wg.Done()

	time.Sleep(g.StepDelay)
	g.emit(callID, StatusRinging)

	time.Sleep(g.StepDelay)
	if busy {
		g.emit(callID, StatusBusy)
		return
	}
	g.emit(callID, StatusAnswered)

	time.Sleep(g.StepDelay)
	g.emit(callID, StatusCompleted)
}

// Wait blocks until all simulated calls have finished. Used in tests.
func (g *MockGateway) Wait() {
	g.wg.Wait()
}

func (g *MockGateway) emit(callID, status string) {
	if g.sink == nil {
		return
	}
	g.sink.HandleProviderEvent(callID, status)
}
