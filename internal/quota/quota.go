// Package quota limits how many applications a user may submit per period.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service is consulted by a run before and after every submission.
type Service interface {
	// Check re-reads the user's quota and returns *ExceededError when no
	// submissions are left in the current period.
	Check(ctx context.Context, userID uuid.UUID) error
	// Consume counts one successful submission.
	Consume(ctx context.Context, userID uuid.UUID) error
}

// ExceededError is returned by Check when the period limit is reached.
type ExceededError struct {
	Count   int
	Limit   int
	ResetIn time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d/%d, resets in %s", e.Count, e.Limit, e.ResetIn.Round(time.Second))
}

// State is a user's quota row.
type State struct {
	UserID          uuid.UUID
	Count           int
	Limit           int
	PeriodStartedAt time.Time
	ResetPeriod     time.Duration
}

// Rollover starts a new period when the current one has elapsed. It reports
// whether the state changed.
func (s *State) Rollover(now time.Time) bool {
	if s.ResetPeriod <= 0 || now.Before(s.PeriodStartedAt.Add(s.ResetPeriod)) {
		return false
	}
	elapsed := now.Sub(s.PeriodStartedAt) / s.ResetPeriod
	s.PeriodStartedAt = s.PeriodStartedAt.Add(elapsed * s.ResetPeriod)
	s.Count = 0
	return true
}

// ResetIn is the time left until the current period ends.
func (s State) ResetIn(now time.Time) time.Duration {
	if s.ResetPeriod <= 0 {
		return 0
	}
	left := s.PeriodStartedAt.Add(s.ResetPeriod).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Exceeded returns an *ExceededError when no submissions are left. A
// non-positive limit means unlimited.
func (s State) Exceeded(now time.Time) error {
	if s.Limit <= 0 || s.Count < s.Limit {
		return nil
	}
	return &ExceededError{Count: s.Count, Limit: s.Limit, ResetIn: s.ResetIn(now)}
}
