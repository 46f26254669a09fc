package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Record("acc1", "KILLING", "kill sequence started", map[string]any{"mtm": -12500.0}))
	require.NoError(t, store.Record("acc1", "KILLED_WAITING", "awaiting mail confirmation", nil))
	require.NoError(t, store.Record("acc1", "KILLED_VERIFIED", "confirmation received", nil))
	require.NoError(t, store.Record("acc2", "KILLING", "manual trigger", nil))

	events, err := store.Recent("acc1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "KILLED_VERIFIED", events[0].Event, "newest event comes first")
	assert.Equal(t, "KILLING", events[2].Event)
	assert.Equal(t, "kill sequence started", events[2].Detail)
	for _, e := range events {
		assert.Equal(t, "acc1", e.AccountID)
		assert.False(t, e.CreatedAt.IsZero())
	}
}

func TestRecentLimit(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record("acc1", "KILLING", "repeat", nil))
	}

	events, err := store.Recent("acc1", 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Out-of-range limits fall back to the default window.
	events, err = store.Recent("acc1", -1)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestRecentEmptyAccount(t *testing.T) {
	store := newTestStore(t)
	events, err := store.Recent("ghost", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNewStoreRequiresPath(t *testing.T) {
	_, err := NewStore("  ")
	require.Error(t, err)
}
