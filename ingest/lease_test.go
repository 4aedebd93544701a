package ingest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veridano/pkg/blobstore"
)

func newLeaseManager(t *testing.T, ttl time.Duration) *LeaseManager {
	t.Helper()
	db, err := blobstore.Open(filepath.Join(t.TempDir(), "leases.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	m, err := NewLeaseManager(db, ttl)
	require.NoError(t, err)
	return m
}

func TestLeaseMutualExclusion(t *testing.T) {
	m := newLeaseManager(t, time.Minute)

	ok, err := m.Acquire("CISA")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Acquire("CISA")
	require.NoError(t, err)
	assert.False(t, ok, "held lease must not be granted twice")

	// Other sources are independent.
	ok, err = m.Acquire("NVD")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, m.Release("CISA"))
	ok, err = m.Acquire("CISA")
	require.NoError(t, err)
	assert.True(t, ok, "released lease is available again")
}

func TestLeaseExpires(t *testing.T) {
	m := newLeaseManager(t, 20*time.Millisecond)

	ok, err := m.Acquire("CISA")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)

	// A crashed holder never releases; expiry unblocks the source.
	ok, err = m.Acquire("CISA")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseReleaseWithoutAcquire(t *testing.T) {
	m := newLeaseManager(t, time.Minute)
	assert.NoError(t, m.Release("never-held"))
}
