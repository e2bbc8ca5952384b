// Package session keeps per-user job board credentials and merges cookies
// observed by concurrent callers under a cross-process lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/lock"
	"github.com/spigell/hh-autoreply/internal/logger"
)

var (
	// ErrNotFound means the user has no linked job board account.
	ErrNotFound = errors.New("session credential not found")
	// ErrLockNotAcquired is retryable: another writer holds the user's lock.
	ErrLockNotAcquired = lock.ErrNotAcquired
)

// Repository persists credentials. GetCredential returns ErrNotFound when
// there is no row for the user.
type Repository interface {
	GetCredential(ctx context.Context, userID uuid.UUID) (Credential, error)
	SaveCredential(ctx context.Context, cred Credential) error
}

// Store is the SessionStore. Reads are lock-free snapshots; writes run under
// the user's lock.
type Store struct {
	repo   Repository
	locker lock.Locker
	wait   time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore wires a store. wait bounds lock acquisition.
func NewStore(repo Repository, locker lock.Locker, wait time.Duration, log *zap.Logger, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		locker: locker,
		wait:   wait,
		now:    time.Now,
		logger: logger.OrNop(log).Named("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a snapshot of the user's credential or ErrNotFound.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (Credential, error) {
	cred, err := s.repo.GetCredential(ctx, userID)
	if err != nil {
		return Credential{}, err
	}
	return cred.Clone(), nil
}

// Update performs a locked read-modify-write of the credential. fn receives a
// private copy; its result is saved with a fresh UpdatedAt. The lock is held
// only for the duration of this call.
func (s *Store) Update(ctx context.Context, userID uuid.UUID, fn func(Credential) (Credential, error)) (Credential, error) {
	key := lock.KeyFromUUID(userID)
	release, err := s.locker.Acquire(ctx, key, s.wait)
	if err != nil {
		return Credential{}, fmt.Errorf("lock session of user %s: %w", userID, err)
	}
	defer func() {
		// Release must not be skipped when ctx is already done.
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release session lock", zap.Stringer(logger.FieldUserID, userID), zap.Error(err))
		}
	}()

	current, err := s.repo.GetCredential(ctx, userID)
	if err != nil {
		return Credential{}, err
	}

	next, err := fn(current.Clone())
	if err != nil {
		return Credential{}, err
	}
	next.UserID = userID
	next.UpdatedAt = s.now().UTC()

	if err := s.repo.SaveCredential(ctx, next); err != nil {
		return Credential{}, fmt.Errorf("save session of user %s: %w", userID, err)
	}
	return next.Clone(), nil
}

// Merge unions observed cookies into the stored ones, last observed value
// winning per key.
func (s *Store) Merge(ctx context.Context, userID uuid.UUID, observed Cookies) (Credential, error) {
	return s.Update(ctx, userID, func(c Credential) (Credential, error) {
		c.Cookies = c.Cookies.Merge(observed)
		return c, nil
	})
}
