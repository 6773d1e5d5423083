package checkpoint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kfarrell/groupfill/pkg/groupfill/checkpoint"
)

func TestMemoryStore_SaveLoadDelete(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	_, err := store.Load("run-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	require.NoError(t, store.Save("run-1", checkpoint.New("run-1", "work-5", 1)))
	require.NoError(t, store.Save("run-1", checkpoint.New("run-1", "work-10", 2)))
	assert.Equal(t, 2, store.Saves())

	loaded, err := store.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, "work-10", loaded.LastKey)

	// The returned record is a copy; mutating it must not affect the store.
	loaded.LastKey = "mutated"
	again, err := store.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, "work-10", again.LastKey)

	require.NoError(t, store.Delete("run-1"))
	_, err = store.Load("run-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Save("run-1", checkpoint.New("run-1", "k", 1)), checkpoint.ErrStoreClosed)
	_, err := store.Load("run-1")
	assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
}

func TestRecord_MarshalRoundTrip(t *testing.T) {
	rec := checkpoint.New("run-1", "work-7", 3)

	data, err := rec.Marshal()
	require.NoError(t, err)

	decoded, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, rec.RunKey, decoded.RunKey)
	assert.Equal(t, rec.LastKey, decoded.LastKey)
	assert.Equal(t, rec.BatchSeq, decoded.BatchSeq)
	assert.Equal(t, checkpoint.Version, decoded.Version)
}
