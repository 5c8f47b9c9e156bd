package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStoreGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("i-doesnotexist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStorePutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rec := types.NewConversionRecord("i-0123456789abcdef0")
	rec.ConversionStep = "stop-instance"
	require.NoError(t, s.Put(rec, false))

	got, err := s.Get(rec.JobId)
	require.NoError(t, err)
	assert.Equal(t, rec.JobId, got.JobId)
	assert.Equal(t, rec.ConversionStep, got.ConversionStep)
}

func TestBoltStorePutIdempotentSkipsUnchanged(t *testing.T) {
	s := newTestStore(t)

	rec := types.NewConversionRecord("i-0123456789abcdef0")
	rec.ConversionStep = "stop-instance"
	require.NoError(t, s.Put(rec, false))

	// An identical write with force=false must not error and must leave the
	// stored value intact.
	require.NoError(t, s.Put(rec, false))

	got, err := s.Get(rec.JobId)
	require.NoError(t, err)
	assert.Equal(t, "stop-instance", got.ConversionStep)
}

func TestBoltStoreDelete(t *testing.T) {
	s := newTestStore(t)

	rec := types.NewConversionRecord("i-0123456789abcdef0")
	require.NoError(t, s.Put(rec, false))
	require.NoError(t, s.Delete(rec.JobId))

	_, err := s.Get(rec.JobId)
	assert.ErrorIs(t, err, ErrNotFound)
}
