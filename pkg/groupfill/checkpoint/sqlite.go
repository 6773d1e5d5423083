package checkpoint

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists checkpoints to SQLite, one row per run key.
// It is suitable for single-process production use. The upsert is a single
// statement, so a crash mid-commit leaves the previous row intact.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite checkpoint store.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:"
// for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better durability under concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_key   TEXT PRIMARY KEY,
			version   INTEGER NOT NULL,
			last_key  TEXT NOT NULL,
			batch_seq INTEGER NOT NULL,
			timestamp TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(runKey string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var rec Record
	var timestamp string
	err := s.db.QueryRow(`
		SELECT version, last_key, batch_seq, timestamp FROM checkpoints
		WHERE run_key = ?
	`, runKey).Scan(&rec.Version, &rec.LastKey, &rec.BatchSeq, &timestamp)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if rec.Version != Version {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrVersionMismatch, rec.Version, Version)
	}

	rec.RunKey = runKey
	rec.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
	return &rec, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(runKey string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO checkpoints (run_key, version, last_key, batch_seq, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_key) DO UPDATE SET
			version   = excluded.version,
			last_key  = excluded.last_key,
			batch_seq = excluded.batch_seq,
			timestamp = excluded.timestamp
	`, runKey, rec.Version, rec.LastKey, rec.BatchSeq, rec.Timestamp.UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(runKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE run_key = ?`, runKey); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
