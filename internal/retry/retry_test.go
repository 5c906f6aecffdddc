package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versfm/internal/domain"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: 2 * time.Millisecond, Multiplier: 2}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(attempt int) error {
		calls++
		if attempt < 3 {
			return domain.NewOpError("put", "/k", domain.ErrProviderUnavailable, nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(2), func(int) error {
		calls++
		return domain.NewOpError("put", "/k", domain.ErrProviderUnavailable, nil)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	assert.Equal(t, 2, calls)
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	for _, kind := range []error{domain.ErrNotFound, domain.ErrPermissionDenied, domain.ErrAlreadyExists, domain.ErrNotEmpty} {
		calls := 0
		err := Do(context.Background(), fastConfig(5), func(int) error {
			calls++
			return domain.NewOpError("op", "/p", kind, nil)
		})
		assert.ErrorIs(t, err, kind)
		assert.Equal(t, 1, calls, kind.Error())
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialWait: time.Hour, MaxWait: time.Hour, Multiplier: 1}

	calls := 0
	err := Do(ctx, cfg, func(int) error {
		calls++
		cancel()
		return domain.NewOpError("get", "/k", domain.ErrProviderUnavailable, nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	value, err := DoWithResult(context.Background(), fastConfig(1), func(int) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestBackoffIsCapped(t *testing.T) {
	cfg := Config{InitialWait: time.Second, MaxWait: 3 * time.Second, Multiplier: 10}
	assert.Equal(t, time.Second, Backoff(cfg, 1))
	assert.Equal(t, 3*time.Second, Backoff(cfg, 4))
}
