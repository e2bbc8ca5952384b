package lock

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker. It only serialises callers sharing the same
// instance and is meant for single-process commands and tests.
type Local struct {
	mu   sync.Mutex
	held map[Key]chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[Key]chan struct{})}
}

func (l *Local) Acquire(ctx context.Context, key Key, wait time.Duration) (Release, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return l.release(key, done), nil
		}
		l.mu.Unlock()

		select {
		case <-ch:
		case <-timer.C:
			return nil, ErrNotAcquired
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Local) release(key Key, done chan struct{}) Release {
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(done)
		})
		return nil
	}
}
