package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return errors.New("password authentication failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
}

func TestDoWithResultReturnsValue(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("i/o timeout")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, &Config{MaxRetries: 5, InitialDelay: time.Minute, Multiplier: 2}, func() error {
		return errors.New("connection refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("read: i/o timeout"), true},
		{errors.New("too many connections"), true},
		{errors.New("password authentication failed"), false},
		{errors.New("syntax error at or near SELECT"), false},
		{nil, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.retryable, IsRetryable(tt.err), "%v", tt.err)
	}
}
