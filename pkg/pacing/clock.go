package pacing

import (
	"context"
	"time"
)

// Source of time for a Writer.
type Clock interface {
	Now() time.Time

	// Block for d, or until ctx is done. A non-positive d returns immediately.
	// Returns ctx.Err() if the context ended first.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// The wall clock.
func SystemClock() Clock {
	return systemClock{}
}
