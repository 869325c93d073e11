package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Run(func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("not yet")
		}
		return nil
	}, 5, time.Millisecond)
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Run(func() error {
		calls++
		return fmt.Errorf("always")
	}, 4, time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRunWithExpBackoffSucceeds(t *testing.T) {
	calls := 0
	done, err := RunWithExpBackoff(context.Background(), func() error {
		calls++
		if calls < 2 {
			return fmt.Errorf("not yet")
		}
		return nil
	}, WithInitialSleep(time.Millisecond), WithMaxSleep(2*time.Millisecond))
	assert.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 2, calls)
}

func TestRunWithExpBackoffGivesUp(t *testing.T) {
	done, err := RunWithExpBackoff(context.Background(), func() error {
		return fmt.Errorf("always")
	}, WithInitialSleep(time.Millisecond), WithMaxElapsed(10*time.Millisecond))
	assert.Error(t, err)
	assert.False(t, done)
}

func TestRunWithExpBackoffHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done, err := RunWithExpBackoff(ctx, func() error {
		return fmt.Errorf("always")
	}, WithInitialSleep(time.Millisecond))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, done)
}
