package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ec2-spot-converter/pkg/config"
	"github.com/cuemby/ec2-spot-converter/pkg/registry"
	"github.com/cuemby/ec2-spot-converter/pkg/store"
	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &Engine{Store: s, Logger: zerolog.Nop()}, s
}

// TestIdempotentResume asserts spec.md §8's "for any prefix of the step
// sequence that completed successfully, re-running the tool with the same
// inputs executes zero mutating cloud calls until the first incomplete
// step" — here, a fully-resumed record (every ungated step already marked
// complete) must run to completion without ever invoking a handler, so nil
// cloud clients are safe to pass.
func TestIdempotentResume(t *testing.T) {
	e, s := newTestEngine(t)
	cfg := config.New()
	cfg.InstanceID = "i-0123456789abcdef0"

	rec := types.NewConversionRecord(cfg.InstanceID)
	rec.ConversionStep = "untag-resources"
	rec.NewInstanceId = "i-0fedcba9876543210"
	rec.ConversionStepReasons = map[string]string{"untag-resources": "untagged all resources"}
	require.NoError(t, s.Put(rec, true))

	report, err := e.Run(cfg)
	require.NoError(t, err)
	assert.True(t, report.Completed)
	assert.Equal(t, "i-0fedcba9876543210", report.NewInstanceId)
}

func TestResetStepOneDeletesRecord(t *testing.T) {
	e, s := newTestEngine(t)
	rec := types.NewConversionRecord("i-0123456789abcdef0")
	rec.ConversionStep = "stop-instance"
	require.NoError(t, s.Put(rec, true))

	require.NoError(t, e.ResetStep("i-0123456789abcdef0", 1))

	_, err := s.Get("i-0123456789abcdef0")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResetStepRewindsConversionStep(t *testing.T) {
	e, s := newTestEngine(t)
	rec := types.NewConversionRecord("i-0123456789abcdef0")
	rec.ConversionStep = "create-new-instance"
	require.NoError(t, s.Put(rec, true))

	// reset-step=N rewinds so the Nth step (1-indexed) runs next: set to the
	// name of step N-1.
	targetIndex := registry.IndexOf("wait-ami")
	require.NoError(t, e.ResetStep("i-0123456789abcdef0", targetIndex+2))

	got, err := s.Get("i-0123456789abcdef0")
	require.NoError(t, err)
	assert.Equal(t, "wait-ami", got.ConversionStep)
}

func TestResetStepOutOfRangeRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.ResetStep("i-0123456789abcdef0", len(registry.Steps)+1)
	assert.Error(t, err)
}
