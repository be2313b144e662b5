package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecords implements RecordRepository using SQLite.
type SQLiteRecords struct {
	db *sql.DB
}

// NewSQLiteRecords creates a SQLite-backed record repository.
func NewSQLiteRecords(dbPath string) (*SQLiteRecords, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRecords{db: db}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRecords) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS call_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		provider_call_id TEXT,
		phone_number TEXT NOT NULL,
		disposition TEXT NOT NULL,
		error TEXT,
		engine_outcome TEXT,
		engine_summary TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		duration_sec INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_call_records_ended ON call_records(ended_at);
	`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Create stores a new call record.
func (r *SQLiteRecords) Create(ctx context.Context, rec *CallRecord) error {
	query := `
	INSERT INTO call_records
		(id, session_id, provider_call_id, phone_number, disposition, error,
		 engine_outcome, engine_summary, started_at, ended_at, duration_sec)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, nullable(rec.ProviderCallID), rec.PhoneNumber,
		rec.Disposition, nullable(rec.Error),
		nullable(rec.EngineOutcome), nullable(rec.EngineSummary),
		rec.StartedAt.Unix(), rec.EndedAt.Unix(), rec.DurationSec,
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// GetBySessionID retrieves the record for a session.
func (r *SQLiteRecords) GetBySessionID(ctx context.Context, sessionID string) (*CallRecord, error) {
	query := `
	SELECT id, session_id, provider_call_id, phone_number, disposition, error,
	       engine_outcome, engine_summary, started_at, ended_at, duration_sec
	FROM call_records WHERE session_id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan call record: %w", err)
	}
	return rec, nil
}

// ListRecent returns up to limit records, newest first.
func (r *SQLiteRecords) ListRecent(ctx context.Context, limit int) ([]*CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, session_id, provider_call_id, phone_number, disposition, error,
	       engine_outcome, engine_summary, started_at, ended_at, duration_sec
	FROM call_records ORDER BY ended_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer rows.Close()

	var out []*CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetEngineOutcome attaches the conversation engine result to a record.
func (r *SQLiteRecords) SetEngineOutcome(ctx context.Context, sessionID, outcome, summary string) error {
	query := `UPDATE call_records SET engine_outcome = ?, engine_summary = ? WHERE session_id = ?`
	if _, err := r.db.ExecContext(ctx, query, outcome, summary, sessionID); err != nil {
		return fmt.Errorf("update engine outcome: %w", err)
	}
	return nil
}

// Count returns the total number of records.
func (r *SQLiteRecords) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count call records: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (r *SQLiteRecords) Close() error {
	return r.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*CallRecord, error) {
	var rec CallRecord
	var providerCallID, errMsg, outcome, summary sql.NullString
	var startedAt, endedAt int64

	err := row.Scan(
		&rec.ID, &rec.SessionID, &providerCallID, &rec.PhoneNumber,
		&rec.Disposition, &errMsg, &outcome, &summary,
		&startedAt, &endedAt, &rec.DurationSec,
	)
	if err != nil {
		return nil, err
	}

	rec.ProviderCallID = providerCallID.String
	rec.Error = errMsg.String
	rec.EngineOutcome = outcome.String
	rec.EngineSummary = summary.String
	rec.StartedAt = time.Unix(startedAt, 0)
	rec.EndedAt = time.Unix(endedAt, 0)
	return &rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteRecords implements RecordRepository
var _ RecordRepository = (*SQLiteRecords)(nil)
