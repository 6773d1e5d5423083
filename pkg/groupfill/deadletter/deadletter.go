// Package deadletter journals terminally failed items.
//
// Resume never retries prior failures automatically; the journal is the
// explicit record an operator feeds back into a new run when failures
// should be re-processed.
package deadletter

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is one journaled failure.
type Entry struct {
	RecordID  string    `json:"record_id"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	BatchSeq  int       `json:"batch_seq"`
	Timestamp time.Time `json:"timestamp"`
}

// Journal records failed items.
// Implementations must be safe for concurrent use.
type Journal interface {
	// Append adds one failure to the journal.
	Append(e Entry) error

	// Close flushes and releases the journal.
	Close() error
}

// ErrJournalClosed indicates an append after Close.
var ErrJournalClosed = errors.New("dead-letter journal closed")

// FileJournal appends entries as JSON lines to a file. Appends are
// line-atomic for readers; the file is fsynced on Close.
type FileJournal struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	closed bool
}

// NewFileJournal opens (or creates) the journal file at path for append.
func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter journal: %w", err)
	}
	return &FileJournal{f: f, w: bufio.NewWriter(f)}, nil
}

// Append implements Journal.
func (j *FileJournal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode dead-letter entry: %w", err)
	}
	if _, err := j.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append dead-letter entry: %w", err)
	}
	// Flush per entry so a crash loses at most the entry being written.
	return j.w.Flush()
}

// Close implements Journal.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.w.Flush(); err != nil {
		return err
	}
	if err := j.f.Sync(); err != nil {
		return err
	}
	return j.f.Close()
}

// Read loads all entries from a journal file. Useful for building a
// re-processing run and for tests.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter journal: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode dead-letter entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read dead-letter journal: %w", err)
	}
	return entries, nil
}

// MemoryJournal collects entries in memory. Useful for testing.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
	closed  bool
}

// NewMemoryJournal creates an in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Append implements Journal.
func (m *MemoryJournal) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrJournalClosed
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	return nil
}

// Close implements Journal.
func (m *MemoryJournal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Entries returns a copy of the journaled entries.
func (m *MemoryJournal) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
