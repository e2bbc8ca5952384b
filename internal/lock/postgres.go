package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres uses session-level advisory locks. The lock lives on a dedicated
// pooled connection that is held until Release.
type Postgres struct {
	pool     *pgxpool.Pool
	interval time.Duration
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, interval: DefaultPoll}
}

func (p *Postgres) Acquire(ctx context.Context, key Key, wait time.Duration) (Release, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for lock %s: %w", key, err)
	}

	err = poll(ctx, wait, p.interval, func(ctx context.Context) (bool, error) {
		var ok bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1, $2)`, key.Hi, key.Lo).Scan(&ok); err != nil {
			return false, fmt.Errorf("try advisory lock %s: %w", key, err)
		}
		return ok, nil
	})
	if err != nil {
		conn.Release()
		return nil, err
	}

	return func(ctx context.Context) error {
		defer conn.Release()
		var released bool
		if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1, $2)`, key.Hi, key.Lo).Scan(&released); err != nil {
			// The connection may still hold the lock; drop it so the server frees it.
			_ = conn.Conn().Close(context.Background())
			return fmt.Errorf("advisory unlock %s: %w", key, err)
		}
		if !released {
			return fmt.Errorf("advisory unlock %s: lock was not held", key)
		}
		return nil
	}, nil
}
