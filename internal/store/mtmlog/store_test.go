package mtmlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "mtm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRange(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)

	require.NoError(t, store.Record("acc1", base, -100, -10000, false))
	require.NoError(t, store.Record("acc1", base.Add(5*time.Second), -9500, -10000, false))
	require.NoError(t, store.Record("acc1", base.Add(10*time.Second), -10200, -10000, true))
	require.NoError(t, store.Record("acc2", base, -50, -5000, false))

	samples, err := store.Range("acc1", base, base.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.Equal(t, -100.0, samples[0].MTM)
	assert.Equal(t, -10200.0, samples[2].MTM)
	assert.True(t, samples[2].SLHit)
	assert.True(t, samples[0].At.Before(samples[1].At), "samples come back ascending")
	for _, s := range samples {
		assert.Equal(t, "acc1", s.AccountID)
	}
}

func TestRangeBounds(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 8, 28, 9, 15, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record("acc1", base.Add(time.Duration(i)*time.Minute), float64(-i), -100, false))
	}

	samples, err := store.Range("acc1", base.Add(time.Minute), base.Add(3*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, samples, 3, "bounds are inclusive")

	samples, err = store.Range("acc1", base, base.Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Len(t, samples, 2)

	samples, err = store.Range("ghost", base, base.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, samples)
}

func TestNewStoreRequiresPath(t *testing.T) {
	_, err := NewStore("  ")
	assert.Error(t, err)
}
