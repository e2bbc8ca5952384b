// Package ratelimit bounds the outbound request rate to the job board.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter blocks until the caller may issue one request. The only error is
// ctx.Err().
type Limiter interface {
	Wait(ctx context.Context) error
}

// Local is a process-wide limiter with a burst of one, so consecutive calls
// are spaced by 1/rps. Waiters are admitted in reservation order.
type Local struct {
	limiter *rate.Limiter
}

func NewLocal(rps float64) *Local {
	return &Local{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (l *Local) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		// rate.Limiter reports a deadline it cannot meet with its own error.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}
