package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CallRecord is the durable record written once a call session reaches a
// terminal state. It survives session eviction and feeds billing and
// review workflows.
type CallRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	PhoneNumber    string    `json:"phone_number"`
	Disposition    string    `json:"disposition"` // final session state: "completed" or "failed"
	Error          string    `json:"error,omitempty"`
	EngineOutcome  string    `json:"engine_outcome,omitempty"` // conversation engine disposition
	EngineSummary  string    `json:"engine_summary,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	DurationSec    int       `json:"duration_sec"`
}

// RecordRepository provides persistent storage for call records.
// Implementation: SQLite for production, in-memory for testing.
type RecordRepository interface {
	// Create stores a new call record.
	Create(ctx context.Context, rec *CallRecord) error

	// GetBySessionID retrieves the record for a session.
	// Returns nil, nil when no record exists.
	GetBySessionID(ctx context.Context, sessionID string) (*CallRecord, error)

	// ListRecent returns up to limit records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*CallRecord, error)

	// SetEngineOutcome attaches the conversation engine result to an
	// existing record. No-op if the record does not exist.
	SetEngineOutcome(ctx context.Context, sessionID, outcome, summary string) error

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)

	// Close releases repository resources.
	Close() error
}

// MemoryRecords is an in-memory RecordRepository for tests and for
// running without a database configured.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string]*CallRecord // session ID -> record
}

// NewMemoryRecords creates an empty in-memory repository.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string]*CallRecord)}
}

// Create stores a new call record.
func (m *MemoryRecords) Create(ctx context.Context, rec *CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.SessionID] = &cp
	return nil
}

// GetBySessionID retrieves the record for a session.
func (m *MemoryRecords) GetBySessionID(ctx context.Context, sessionID string) (*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ListRecent returns up to limit records, newest first.
func (m *MemoryRecords) ListRecent(ctx context.Context, limit int) ([]*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*CallRecord, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EndedAt.After(out[j].EndedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetEngineOutcome attaches the conversation engine result to a record.
func (m *MemoryRecords) SetEngineOutcome(ctx context.Context, sessionID, outcome, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[sessionID]; ok {
		rec.EngineOutcome = outcome
		rec.EngineSummary = summary
	}
	return nil
}

// Count returns the total number of records.
func (m *MemoryRecords) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// Close is a no-op for the in-memory repository.
func (m *MemoryRecords) Close() error {
	return nil
}

// Ensure MemoryRecords implements RecordRepository
var _ RecordRepository = (*MemoryRecords)(nil)
