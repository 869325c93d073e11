// Package retry re-runs flaky operations, mostly kernel-facing ones where
// device nodes and partition rescans land asynchronously.
package retry

import (
	"context"
	"time"
)

// Run calls function up to attempts times, sleeping between tries, until it
// returns nil. Returns the last error when all attempts fail.
func Run(function func() error, attempts int, sleep time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(sleep)
		}
		err = function()
		if err == nil {
			return nil
		}
	}
	return err
}

// RunWithExpBackoff calls function until it returns nil, doubling the sleep
// after each failure up to maxSleep. Gives up when ctx is cancelled or after
// maxElapsed of trying. The bool result reports whether function succeeded.
func RunWithExpBackoff(ctx context.Context, function func() error, opts ...Option) (bool, error) {
	cfg := config{
		initialSleep: 100 * time.Millisecond,
		maxSleep:     5 * time.Second,
		maxElapsed:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	deadline := time.Now().Add(cfg.maxElapsed)
	sleep := cfg.initialSleep

	var err error
	for {
		err = function()
		if err == nil {
			return true, nil
		}

		if time.Now().After(deadline) {
			return false, err
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(sleep):
		}

		sleep *= 2
		if sleep > cfg.maxSleep {
			sleep = cfg.maxSleep
		}
	}
}

type config struct {
	initialSleep time.Duration
	maxSleep     time.Duration
	maxElapsed   time.Duration
}

type Option func(*config)

func WithInitialSleep(d time.Duration) Option {
	return func(c *config) { c.initialSleep = d }
}

func WithMaxSleep(d time.Duration) Option {
	return func(c *config) { c.maxSleep = d }
}

func WithMaxElapsed(d time.Duration) Option {
	return func(c *config) { c.maxElapsed = d }
}
