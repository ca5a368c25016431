package scan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/internal/metrics"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(nil, metrics.New(), logger.Nop())

	_, ok := reg.Active()
	assert.False(t, ok)

	run, err := reg.Begin(context.Background(), "2025-03-03_scan")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-03_scan", run.ID())

	info, ok := reg.Active()
	require.True(t, ok)
	assert.Equal(t, StateRunning, info.State)
	assert.NotEmpty(t, info.Token)
	assert.Nil(t, info.FinishedAt)

	reg.Finish(run, nil)
	_, ok = reg.Active()
	assert.False(t, ok)

	last, ok := reg.Last()
	require.True(t, ok)
	assert.Equal(t, StateCompleted, last.State)
	assert.NotNil(t, last.FinishedAt)
	assert.False(t, run.Cancelled(), "completed runs are not cancelled")
}

func TestRegistryFinishWithError(t *testing.T) {
	reg := NewRegistry(nil, nil, logger.Nop())
	run, err := reg.Begin(context.Background(), "r1")
	require.NoError(t, err)

	reg.Finish(run, errors.New("broker down"))
	last, _ := reg.Last()
	assert.Equal(t, StateFailed, last.State)
	assert.Equal(t, "broker down", last.Error)
}

func TestRegistrySupersedesActiveRun(t *testing.T) {
	reg := NewRegistry(nil, metrics.New(), logger.Nop())

	first, err := reg.Begin(context.Background(), "r1")
	require.NoError(t, err)
	second, err := reg.Begin(context.Background(), "r2")
	require.NoError(t, err)

	assert.True(t, first.Cancelled())
	assert.Error(t, first.Context().Err())
	assert.Equal(t, StateSuperseded, first.Info().State)
	assert.Contains(t, first.Info().Error, "r2")

	info, ok := reg.Active()
	require.True(t, ok)
	assert.Equal(t, "r2", info.ID)

	// finishing the superseded run leaves the newer run active and keeps its state
	reg.Finish(first, nil)
	assert.Equal(t, StateSuperseded, first.Info().State)
	info, ok = reg.Active()
	require.True(t, ok)
	assert.Equal(t, "r2", info.ID)

	reg.Finish(second, nil)
	assert.False(t, second.Cancelled())
}

func TestRegistryCancelActive(t *testing.T) {
	reg := NewRegistry(nil, nil, logger.Nop())
	assert.False(t, reg.CancelActive())

	run, err := reg.Begin(context.Background(), "r1")
	require.NoError(t, err)
	assert.True(t, reg.CancelActive())
	assert.True(t, run.Cancelled())
	assert.Equal(t, StateCancelled, run.Info().State)

	// a second end transition is ignored
	assert.False(t, run.markEnded(StateCompleted, ""))
}
