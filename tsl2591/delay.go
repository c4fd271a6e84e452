package tsl2591

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Delayer waits for the sensor to finish an integration cycle.
type Delayer interface {
	Delay(ctx context.Context, d time.Duration) error
}

// BlockingDelay holds the calling goroutine for the full duration and
// ignores ctx.
type BlockingDelay struct {
	Clock clock.Clock
}

func (b BlockingDelay) Delay(_ context.Context, d time.Duration) error {
	clockOrDefault(b.Clock).Sleep(d)
	return nil
}

// SuspendingDelay parks on a timer and returns early with ctx.Err() if the
// context is done first.
type SuspendingDelay struct {
	Clock clock.Clock
}

func (s SuspendingDelay) Delay(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := clockOrDefault(s.Clock).Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clockOrDefault(c clock.Clock) clock.Clock {
	if c == nil {
		return clock.New()
	}
	return c
}
