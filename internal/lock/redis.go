package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis implements Locker with SET NX PX and a token-checked release.
type Redis struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	interval time.Duration
}

// NewRedis returns a redis locker. ttl bounds how long a lock survives a
// crashed holder.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "hh-autoreply:lock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, interval: DefaultPoll}
}

func (r *Redis) Acquire(ctx context.Context, key Key, wait time.Duration) (Release, error) {
	name := r.prefix + key.String()
	token := uuid.NewString()

	err := poll(ctx, wait, r.interval, func(ctx context.Context) (bool, error) {
		ok, err := r.client.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil {
			return false, fmt.Errorf("redis lock %s: %w", name, err)
		}
		return ok, nil
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, r.client, []string{name}, token).Int()
		if err != nil {
			return fmt.Errorf("redis unlock %s: %w", name, err)
		}
		if n == 0 {
			return fmt.Errorf("redis unlock %s: lock expired or taken over", name)
		}
		return nil
	}, nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
