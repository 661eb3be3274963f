// Package poll provides a cancellable "poll until terminal or timeout" loop.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the timeout elapses before a terminal value is observed
var ErrTimeout = errors.New("poll: timed out waiting for terminal state")

// Config controls the polling loop
type Config struct {
	// Interval between two fetches. Required.
	Interval time.Duration
	// Timeout bounds the whole loop. Zero means poll until ctx is done.
	Timeout time.Duration
	// Retryable reports whether a fetch error should be swallowed and polling continued.
	// Nil means every fetch error stops the loop.
	Retryable func(error) bool
}

// Until calls fetch immediately and then every cfg.Interval until done reports true,
// the timeout elapses or ctx is cancelled. onUpdate (optional) receives every fetched value.
//
// On timeout the last fetched value is returned together with ErrTimeout.
// On cancellation ctx.Err() is returned.
func Until[T any](
	ctx context.Context,
	cfg Config,
	fetch func(ctx context.Context) (T, error),
	done func(T) bool,
	onUpdate func(T),
) (T, error) {
	var last T

	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}

	var deadline <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		v, err := fetch(ctx)
		switch {
		case err == nil:
			last = v
			if onUpdate != nil {
				onUpdate(v)
			}
			if done(v) {
				return v, nil
			}
		case ctx.Err() != nil:
			return last, ctx.Err()
		case cfg.Retryable == nil || !cfg.Retryable(err):
			return last, err
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline:
			return last, ErrTimeout
		case <-ticker.C:
		}
	}
}
