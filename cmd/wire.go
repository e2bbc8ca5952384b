package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/ai"
	"github.com/spigell/hh-autoreply/internal/ai/gemini"
	"github.com/spigell/hh-autoreply/internal/autoreply"
	"github.com/spigell/hh-autoreply/internal/gateway"
	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/lock"
	"github.com/spigell/hh-autoreply/internal/logger"
	"github.com/spigell/hh-autoreply/internal/matchcache"
	"github.com/spigell/hh-autoreply/internal/ratelimit"
	"github.com/spigell/hh-autoreply/internal/secrets"
	"github.com/spigell/hh-autoreply/internal/session"
	"github.com/spigell/hh-autoreply/internal/store"
	"github.com/spigell/hh-autoreply/internal/telemetry"
)

// components is everything a run needs, built from the config.
type components struct {
	store  *store.Store
	redis  redis.UniversalClient
	runner *autoreply.Runner
}

func (c *components) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.store != nil {
		c.store.Close()
	}
}

func openStore(ctx context.Context, cfg *Config, log *zap.Logger) (*store.Store, error) {
	dsn, err := secrets.Load(secrets.Source{
		Name:  "postgres dsn",
		Value: cfg.Postgres.DSN,
		File:  cfg.Postgres.DSNFile,
	})
	if err != nil {
		return nil, err
	}
	return store.New(ctx, dsn, log)
}

func build(ctx context.Context, cfg *Config, log *zap.Logger, opts ...autoreply.Option) (*components, error) {
	c := &components{}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	c.store = st

	if cfg.RateLimit.Backend == BackendRedis || cfg.Session.LockBackend == BackendRedis {
		client, err := openRedis(ctx, cfg)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.redis = client
	}

	var locker lock.Locker
	switch cfg.Session.LockBackend {
	case BackendRedis:
		locker = lock.NewRedis(c.redis, "", 0)
	case BackendLocal:
		// Only safe when a single process talks to the job board.
		locker = lock.NewLocal()
	default:
		locker = lock.NewPostgres(st.Pool())
	}

	var limiter ratelimit.Limiter = ratelimit.NewLocal(cfg.RateLimit.RequestsPerSecond)
	if cfg.RateLimit.Backend == BackendRedis {
		limiter = ratelimit.NewTokenBucket(c.redis, cfg.RateLimit.Key, cfg.RateLimit.RequestsPerSecond, log)
	}

	sessions := session.NewStore(st, locker, cfg.Session.LockWait, log)

	hh := headhunter.New(log,
		headhunter.WithAPIURL(cfg.Headhunter.APIURL),
		headhunter.WithUserAgent(cfg.Headhunter.UserAgent),
		headhunter.WithTimeout(cfg.Headhunter.Timeout),
	)
	board := gateway.New(hh, limiter, sessions, log)

	filter, letters, err := newAI(ctx, cfg, log)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("building ai: %w", err)
	}

	cache := matchcache.New(st, filter, matchcache.Config{
		MinConfidence: cfg.Match.MinimumConfidence,
		ChunkSize:     cfg.Match.ChunkSize,
		MaxParallel:   cfg.Match.MaxParallel,
	}, log)

	runner, err := autoreply.NewRunner(autoreply.Deps{
		Board:        board,
		Sessions:     sessions,
		Matcher:      cache,
		Resumes:      st,
		Applications: st,
		Quota:        st.Quotas(),
		Letters:      letters,
	}, autoreply.Config{
		MaxVacancies:  cfg.AutoReply.MaxVacancies,
		PerPage:       cfg.AutoReply.PerPage,
		Pacing:        cfg.AutoReply.Pacing,
		DefaultLetter: cfg.AutoReply.DefaultLetter,
	}, log, opts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.runner = runner

	return c, nil
}

func openRedis(ctx context.Context, cfg *Config) (redis.UniversalClient, error) {
	password, err := secrets.Optional(secrets.Source{
		Name:  "redis password",
		Value: cfg.Redis.Password,
		File:  cfg.Redis.PasswordFile,
	})
	if err != nil {
		return nil, err
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func newAI(ctx context.Context, cfg *Config, log *zap.Logger) (ai.FilterService, ai.CoverLetterGenerator, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.AI.Gemini.APIKey,
		Env:   "GEMINI_API_KEY",
		File:  cfg.AI.Gemini.APIKeyFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w (set ai.gemini.api-key-file or GEMINI_API_KEY)", err)
	}

	generator, err := gemini.NewGenerator(ctx, gemini.Config{
		APIKey:     apiKey,
		Model:      cfg.AI.Gemini.Model,
		MaxRetries: cfg.AI.Gemini.MaxRetries,
		Timeout:    cfg.AI.Gemini.Timeout,
	}, logger.WithFields(log, zap.Int("ai_retry_attempts", cfg.AI.Gemini.MaxRetries)))
	if err != nil {
		return nil, nil, err
	}

	caller := ai.NewCaller(cfg.AI.MaxAttempts, telemetry.LLMRecorder{}, log, ai.WithAttemptTimeout(cfg.AI.AttemptTimeout))

	filter := gemini.NewFilter(generator, caller, log, cfg.AI.Gemini.MaxLogLength)
	letters := gemini.NewCoverLetter(generator, caller, log, cfg.AI.Gemini.MaxLogLength)
	return filter, letters, nil
}
