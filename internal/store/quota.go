package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spigell/hh-autoreply/internal/quota"
)

// Quotas implements quota.Service on top of the quotas table. Users without
// a row are unlimited.
type Quotas struct {
	store *Store
	now   func() time.Time
}

func (s *Store) Quotas() *Quotas {
	return &Quotas{store: s, now: time.Now}
}

// Check re-reads the row under a row lock and starts a new period when the
// current one elapsed.
func (q *Quotas) Check(ctx context.Context, userID uuid.UUID) error {
	var exceeded error
	err := q.store.inTx(ctx, func(tx pgx.Tx) error {
		state, found, err := q.load(ctx, tx, userID)
		if err != nil || !found {
			return err
		}

		now := q.now()
		if state.Rollover(now) {
			if err := q.save(ctx, tx, state); err != nil {
				return err
			}
		}
		exceeded = state.Exceeded(now)
		return nil
	})
	if err != nil {
		return err
	}
	return exceeded
}

// Consume counts one submission.
func (q *Quotas) Consume(ctx context.Context, userID uuid.UUID) error {
	return q.store.inTx(ctx, func(tx pgx.Tx) error {
		state, found, err := q.load(ctx, tx, userID)
		if err != nil || !found {
			return err
		}
		state.Rollover(q.now())
		state.Count++
		return q.save(ctx, tx, state)
	})
}

func (q *Quotas) load(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (quota.State, bool, error) {
	state := quota.State{UserID: userID}
	err := tx.QueryRow(ctx, `
		SELECT responses_count, response_limit, period_started_at, reset_period
		FROM quotas WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&state.Count, &state.Limit, &state.PeriodStartedAt, &state.ResetPeriod)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("query quota: %w", err)
	}
	return state, true, nil
}

func (q *Quotas) save(ctx context.Context, tx pgx.Tx, state quota.State) error {
	_, err := tx.Exec(ctx, `
		UPDATE quotas SET responses_count = $2, period_started_at = $3
		WHERE user_id = $1
	`, state.UserID, state.Count, state.PeriodStartedAt)
	if err != nil {
		return fmt.Errorf("update quota: %w", err)
	}
	return nil
}
