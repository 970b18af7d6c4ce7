// Package sqlite implements taiga.BlobStore and taiga.ExecutionLog using
// pure-Go SQLite. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anikeev/taiga"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger. When set, the store emits debug
// logs for every operation including timing and key parameters.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store persists tool attachments (partitioned by type) and the
// session-scoped execution log in a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ taiga.BlobStore = (*Store)(nil)
var _ taiga.ExecutionLog = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above this cannot happen.
		panic(fmt.Sprintf("sqlite: open %s: %v", dbPath, err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the schema. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS attachments (
			partition  TEXT NOT NULL,
			file_id    TEXT NOT NULL,
			mime_type  TEXT NOT NULL,
			data       BLOB,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (partition, file_id)
		);
		CREATE TABLE IF NOT EXISTS execution_log (
			session_id TEXT NOT NULL,
			idx        INTEGER NOT NULL,
			data       TEXT NOT NULL,
			message    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, idx)
		);
	`)
	if err != nil {
		return fmt.Errorf("sqlite: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Put stores an attachment under its partition. Keys are caller-minted
// UUIDs, so an INSERT OR REPLACE never clobbers another conversation's data.
func (s *Store) Put(ctx context.Context, partition, key string, att taiga.Attachment) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attachments (partition, file_id, mime_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		partition, key, att.Type, att.Data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: put attachment %s/%s: %w", partition, key, err)
	}
	s.logger.Debug("attachment stored",
		"partition", partition, "file_id", key, "bytes", len(att.Data),
		"duration", time.Since(start))
	return nil
}

// Get retrieves an attachment by partition and file id.
func (s *Store) Get(ctx context.Context, partition, key string) (taiga.Attachment, error) {
	var att taiga.Attachment
	att.FileID = key
	err := s.db.QueryRowContext(ctx,
		`SELECT mime_type, data FROM attachments WHERE partition = ? AND file_id = ?`,
		partition, key).Scan(&att.Type, &att.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return taiga.Attachment{}, fmt.Errorf("sqlite: attachment %s/%s not found", partition, key)
	}
	if err != nil {
		return taiga.Attachment{}, fmt.Errorf("sqlite: get attachment %s/%s: %w", partition, key, err)
	}
	return att, nil
}

// Append adds an entry to a session's execution log at the next index.
func (s *Store) Append(ctx context.Context, sessionID string, entry taiga.LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_log (session_id, idx, data, message, created_at)
		 VALUES (?, (SELECT COALESCE(MAX(idx), -1) + 1 FROM execution_log WHERE session_id = ?), ?, ?, ?)`,
		sessionID, sessionID, string(entry.Data), entry.Message, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite: append execution log for %s: %w", sessionID, err)
	}
	return nil
}

// Entry retrieves the execution-log entry at index for a session.
func (s *Store) Entry(ctx context.Context, sessionID string, index int) (taiga.LogEntry, error) {
	var entry taiga.LogEntry
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data, message FROM execution_log WHERE session_id = ? AND idx = ?`,
		sessionID, index).Scan(&data, &entry.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return taiga.LogEntry{}, fmt.Errorf("sqlite: execution log %s[%d] not found", sessionID, index)
	}
	if err != nil {
		return taiga.LogEntry{}, fmt.Errorf("sqlite: get execution log %s[%d]: %w", sessionID, index, err)
	}
	entry.Data = []byte(data)
	return entry, nil
}
