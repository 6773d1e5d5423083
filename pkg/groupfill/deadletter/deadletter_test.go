package deadletter_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfarrell/groupfill/pkg/groupfill/deadletter"
)

func TestFileJournal_AppendRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.jsonl")

	j, err := deadletter.NewFileJournal(path)
	require.NoError(t, err)

	require.NoError(t, j.Append(deadletter.Entry{
		RecordID: "w1",
		Reason:   "max retries exceeded",
		Attempts: 4,
		BatchSeq: 2,
	}))
	require.NoError(t, j.Append(deadletter.Entry{
		RecordID: "w2",
		Reason:   "post-check mismatch",
		Attempts: 1,
		BatchSeq: 3,
	}))
	require.NoError(t, j.Close())

	entries, err := deadletter.Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "w1", entries[0].RecordID)
	assert.Equal(t, 4, entries[0].Attempts)
	assert.Equal(t, "w2", entries[1].RecordID)
	assert.Equal(t, 3, entries[1].BatchSeq)
	// Append stamps entries that arrive without a timestamp.
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestFileJournal_AppendsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.jsonl")

	j1, err := deadletter.NewFileJournal(path)
	require.NoError(t, err)
	require.NoError(t, j1.Append(deadletter.Entry{RecordID: "w1", Reason: "x"}))
	require.NoError(t, j1.Close())

	// A second run appends to the same journal rather than truncating it.
	j2, err := deadletter.NewFileJournal(path)
	require.NoError(t, err)
	require.NoError(t, j2.Append(deadletter.Entry{RecordID: "w2", Reason: "y"}))
	require.NoError(t, j2.Close())

	entries, err := deadletter.Read(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "w1", entries[0].RecordID)
	assert.Equal(t, "w2", entries[1].RecordID)
}

func TestFileJournal_AppendAfterClose(t *testing.T) {
	j, err := deadletter.NewFileJournal(filepath.Join(t.TempDir(), "failed.jsonl"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.Append(deadletter.Entry{RecordID: "w1"}), deadletter.ErrJournalClosed)
	// Close is idempotent.
	assert.NoError(t, j.Close())
}

func TestFileJournal_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.jsonl")
	j, err := deadletter.NewFileJournal(path)
	require.NoError(t, err)

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for k := 0; k < 20; k++ {
				assert.NoError(t, j.Append(deadletter.Entry{RecordID: "w", Reason: "r", BatchSeq: n}))
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, j.Close())

	entries, err := deadletter.Read(path)
	require.NoError(t, err)
	assert.Len(t, entries, writers*20)
}

func TestRead_MissingFile(t *testing.T) {
	_, err := deadletter.Read(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestMemoryJournal(t *testing.T) {
	j := deadletter.NewMemoryJournal()

	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(deadletter.Entry{RecordID: "w1", Reason: "r", Timestamp: stamp}))
	require.NoError(t, j.Append(deadletter.Entry{RecordID: "w2", Reason: "r"}))

	entries := j.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, stamp, entries[0].Timestamp)
	assert.False(t, entries[1].Timestamp.IsZero())

	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Append(deadletter.Entry{RecordID: "w3"}), deadletter.ErrJournalClosed)
}
