// internal/ingest/ratelimit.go
package ingest

import (
	"context"
	"log/slog"
	"time"
)

// QuotaFunc reports the remaining remote API quota.
type QuotaFunc func(ctx context.Context) (int, error)

// Limiter implements advisory backoff: before each batch of remote calls it
// checks the remaining quota and suspends the calling worker for a cooldown
// when the quota drops below the floor. It only checks at iteration
// boundaries; a single expensive call can still exceed quota.
type Limiter struct {
	remaining QuotaFunc
	floor     int
	cooldown  time.Duration
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a Limiter with the given floor and cooldown.
func NewLimiter(remaining QuotaFunc, floor int, cooldown time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		remaining: remaining,
		floor:     floor,
		cooldown:  cooldown,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Wait blocks the calling worker for one cooldown when the remaining quota
// is below the floor. The suspension only blocks this worker; it is
// interruptible by context cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	remaining, err := l.remaining(ctx)
	if err != nil {
		return err
	}
	if remaining >= l.floor {
		return nil
	}

	l.logger.Warn("Rate limit low, pausing", "remaining", remaining, "cooldown", l.cooldown.String())
	return l.sleep(ctx, l.cooldown)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
