package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crajarshi/SwingTrading/pkg/apperr"
)

func recordingPolicy(maxRetries int) (*Policy, *[]time.Duration) {
	var waits []time.Duration
	p := &Policy{
		MaxRetries:   maxRetries,
		InitialDelay: time.Second,
		MaxDelay:     3 * time.Second,
		Multiplier:   2,
		sleep: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return ctx.Err()
		},
	}
	return p, &waits
}

func TestDoRetriesNetworkErrors(t *testing.T) {
	p, waits := recordingPolicy(3)
	calls := 0

	err := p.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperr.FromStatus("fetch", 503, "")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestDoGivesUp(t *testing.T) {
	p, waits := recordingPolicy(3)
	calls := 0

	err := p.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return apperr.FromStatus("fetch", 429, "slow down")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))
	// capped at MaxDelay
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *waits)
}

func TestDoDoesNotRetryOtherKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"authorization", apperr.FromStatus("op", 401, "")},
		{"configuration", apperr.Configf("op", "bad qty")},
		{"data", apperr.Dataf("op", "no bars")},
		{"plain", errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, waits := recordingPolicy(3)
			calls := 0
			err := p.Do(context.Background(), "op", func(ctx context.Context) error {
				calls++
				return tt.err
			})
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, *waits)
		})
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	p, _ := recordingPolicy(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0

	err := p.Do(ctx, "op", func(ctx context.Context) error {
		calls++
		return apperr.Network("op", errors.New("reset"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNone(t *testing.T) {
	calls := 0
	err := None().Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return apperr.Network("op", errors.New("reset"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
