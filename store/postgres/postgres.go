// Package postgres implements taiga.BlobStore and taiga.ExecutionLog using
// PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anikeev/taiga"
)

// Store persists tool attachments and the session-scoped execution log in
// PostgreSQL. Attachment keys are caller-minted UUIDs, so concurrent puts
// from unrelated conversations never collide.
type Store struct {
	pool *pgxpool.Pool
}

var _ taiga.BlobStore = (*Store)(nil)
var _ taiga.ExecutionLog = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the schema. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS attachments (
			partition  TEXT NOT NULL,
			file_id    TEXT NOT NULL,
			mime_type  TEXT NOT NULL,
			data       BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (partition, file_id)
		);
		CREATE TABLE IF NOT EXISTS execution_log (
			session_id TEXT NOT NULL,
			idx        INTEGER NOT NULL,
			data       JSONB NOT NULL,
			message    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, idx)
		);
	`)
	if err != nil {
		return fmt.Errorf("postgres: init schema: %w", err)
	}
	return nil
}

// Put stores an attachment under its partition.
func (s *Store) Put(ctx context.Context, partition, key string, att taiga.Attachment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attachments (partition, file_id, mime_type, data) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (partition, file_id) DO UPDATE SET mime_type = EXCLUDED.mime_type, data = EXCLUDED.data`,
		partition, key, att.Type, att.Data)
	if err != nil {
		return fmt.Errorf("postgres: put attachment %s/%s: %w", partition, key, err)
	}
	return nil
}

// Get retrieves an attachment by partition and file id.
func (s *Store) Get(ctx context.Context, partition, key string) (taiga.Attachment, error) {
	var att taiga.Attachment
	att.FileID = key
	err := s.pool.QueryRow(ctx,
		`SELECT mime_type, data FROM attachments WHERE partition = $1 AND file_id = $2`,
		partition, key).Scan(&att.Type, &att.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return taiga.Attachment{}, fmt.Errorf("postgres: attachment %s/%s not found", partition, key)
	}
	if err != nil {
		return taiga.Attachment{}, fmt.Errorf("postgres: get attachment %s/%s: %w", partition, key, err)
	}
	return att, nil
}

// Append adds an entry to a session's execution log at the next index.
func (s *Store) Append(ctx context.Context, sessionID string, entry taiga.LogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO execution_log (session_id, idx, data, message)
		 SELECT $1, COALESCE(MAX(idx), -1) + 1, $2::jsonb, $3 FROM execution_log WHERE session_id = $1`,
		sessionID, string(entry.Data), entry.Message)
	if err != nil {
		return fmt.Errorf("postgres: append execution log for %s: %w", sessionID, err)
	}
	return nil
}

// Entry retrieves the execution-log entry at index for a session.
func (s *Store) Entry(ctx context.Context, sessionID string, index int) (taiga.LogEntry, error) {
	var entry taiga.LogEntry
	var data string
	err := s.pool.QueryRow(ctx,
		`SELECT data::text, message FROM execution_log WHERE session_id = $1 AND idx = $2`,
		sessionID, index).Scan(&data, &entry.Message)
	if errors.Is(err, pgx.ErrNoRows) {
		return taiga.LogEntry{}, fmt.Errorf("postgres: execution log %s[%d] not found", sessionID, index)
	}
	if err != nil {
		return taiga.LogEntry{}, fmt.Errorf("postgres: get execution log %s[%d]: %w", sessionID, index, err)
	}
	entry.Data = []byte(data)
	return entry, nil
}
