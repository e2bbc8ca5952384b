// Package lock provides cross-process mutual exclusion keyed by a user id.
// Locks are acquired with a bounded wait and fail fast with ErrNotAcquired.
package lock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired is returned when the lock is held elsewhere for the whole
// wait window. Callers should back off and retry.
var ErrNotAcquired = errors.New("lock not acquired")

// DefaultPoll is the retry interval while waiting for a held lock.
const DefaultPoll = 50 * time.Millisecond

// Key is a two-part lock token, matching the two-int4 form of
// pg_advisory_lock.
type Key struct {
	Hi int32
	Lo int32
}

// KeyFromUUID folds a 128-bit id into two signed 32-bit halves.
func KeyFromUUID(id uuid.UUID) Key {
	a := binary.BigEndian.Uint32(id[0:4]) ^ binary.BigEndian.Uint32(id[8:12])
	b := binary.BigEndian.Uint32(id[4:8]) ^ binary.BigEndian.Uint32(id[12:16])
	return Key{Hi: int32(a), Lo: int32(b)}
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.Hi, k.Lo)
}

// Release frees a held lock. It must be called exactly once.
type Release func(ctx context.Context) error

// Locker acquires a lock for key, waiting at most wait.
type Locker interface {
	Acquire(ctx context.Context, key Key, wait time.Duration) (Release, error)
}

// poll calls try until it succeeds, the wait window closes, or ctx ends.
func poll(ctx context.Context, wait, interval time.Duration, try func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = DefaultPoll
	}
	deadline := time.Now().Add(wait)

	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrNotAcquired
		}
		if remaining < interval {
			interval = remaining
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
