package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), ExchangeSubmitConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxElapsed:   time.Second,
		Multiplier:   2.0,
	}, func() error {
		attempts++
		return errors.New("persistent")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, ExchangeSubmitConfig(), func() error {
		attempts++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 1)
}
