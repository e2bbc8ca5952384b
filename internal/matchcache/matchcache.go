// Package matchcache caches LLM relevance verdicts per (résumé, vacancy) and
// fans cache misses out to the LLM filter in concurrent chunks.
package matchcache

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/hh-autoreply/internal/ai"
	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/logger"
	"github.com/spigell/hh-autoreply/internal/telemetry"
)

const (
	DefaultChunkSize     = 20
	DefaultMaxParallel   = 4
	DefaultMinConfidence = 0.6
	persistTimeout       = 10 * time.Second
)

// Match is a cached verdict. Vacancy is set for results of Filter and is not
// persisted.
type Match struct {
	ResumeID    uuid.UUID
	VacancyID   string
	VacancyHash string
	Confidence  float64
	Reason      string
	ComputedAt  time.Time
	Vacancy     *headhunter.Vacancy
}

// Repository persists verdicts. PutBatch keeps the first stored verdict for
// a key.
type Repository interface {
	GetBatch(ctx context.Context, resumeID uuid.UUID, hashes []string) (map[string]Match, error)
	PutBatch(ctx context.Context, matches []Match) error
}

// Hash is the content hash of a vacancy. Board ids are never reused, so the
// id alone identifies the content.
func Hash(v *headhunter.Vacancy) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(v.ID))
}

type Config struct {
	MinConfidence float64
	ChunkSize     int
	MaxParallel   int
}

type Cache struct {
	repo          Repository
	filter        ai.FilterService
	minConfidence float64
	chunkSize     int
	maxParallel   int
	now           func() time.Time
	logger        *zap.Logger
}

func New(repo Repository, filter ai.FilterService, cfg Config, log *zap.Logger) *Cache {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	return &Cache{
		repo:          repo,
		filter:        filter,
		minConfidence: cfg.MinConfidence,
		chunkSize:     cfg.ChunkSize,
		maxParallel:   cfg.MaxParallel,
		now:           time.Now,
		logger:        logger.OrNop(log).Named("matchcache"),
	}
}

// Filter returns matches with confidence at or above the minimum, in input
// order. Vacancies of a failed chunk are left out. The only error returned
// is a context error.
func (c *Cache) Filter(ctx context.Context, vacancies []*headhunter.Vacancy, resumeID uuid.UUID, resumeText, extra string) ([]Match, error) {
	log := c.logger.With(zap.Stringer(logger.FieldResumeID, resumeID))

	hashes := make([]string, len(vacancies))
	unique := make([]string, 0, len(vacancies))
	seen := make(map[string]struct{}, len(vacancies))
	for i, v := range vacancies {
		hashes[i] = Hash(v)
		if _, ok := seen[hashes[i]]; !ok {
			seen[hashes[i]] = struct{}{}
			unique = append(unique, hashes[i])
		}
	}

	cached, err := c.repo.GetBatch(ctx, resumeID, unique)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("match cache read failed, treating all vacancies as misses", zap.Error(err))
		cached = nil
	}

	var misses []*headhunter.Vacancy
	queued := make(map[string]struct{})
	for i, v := range vacancies {
		if _, hit := cached[hashes[i]]; hit {
			continue
		}
		if _, ok := queued[hashes[i]]; ok {
			continue
		}
		queued[hashes[i]] = struct{}{}
		misses = append(misses, v)
	}

	telemetry.MatchCacheHits.Add(float64(len(unique) - len(misses)))
	telemetry.MatchCacheMisses.Add(float64(len(misses)))
	log.Debug("match cache lookup", zap.Int("vacancies", len(vacancies)), zap.Int("hits", len(unique)-len(misses)), zap.Int("misses", len(misses)))

	computed, err := c.compute(ctx, log, misses, resumeID, resumeText, extra)
	if len(computed) > 0 {
		c.persist(ctx, log, computed)
	}
	if err != nil {
		return nil, err
	}

	results := make([]Match, 0, len(vacancies))
	for i, v := range vacancies {
		m, ok := cached[hashes[i]]
		if !ok {
			m, ok = computed[hashes[i]]
		}
		if !ok || m.Confidence < c.minConfidence {
			continue
		}
		m.Vacancy = v
		m.VacancyID = v.ID
		results = append(results, m)
	}

	return results, nil
}

// compute scores misses chunk by chunk with bounded parallelism. On a
// context error it still returns the verdicts of the chunks that finished.
func (c *Cache) compute(ctx context.Context, log *zap.Logger, misses []*headhunter.Vacancy, resumeID uuid.UUID, resumeText, extra string) (map[string]Match, error) {
	chunks := chunk(misses, c.chunkSize)
	results := make([][]Match, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxParallel)

	for i, part := range chunks {
		g.Go(func() error {
			matches, err := c.scoreChunk(gctx, part, resumeID, resumeText, extra)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// One failed chunk must not sink the others.
				telemetry.MatchChunkFailures.Inc()
				log.Warn("llm filter chunk failed, skipping its vacancies",
					zap.Int("chunk", i),
					zap.Int("vacancies", len(part)),
					zap.Error(err),
				)
				return nil
			}
			results[i] = matches
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	computed := make(map[string]Match)
	for _, matches := range results {
		for _, m := range matches {
			computed[m.VacancyHash] = m
		}
	}
	return computed, err
}

func (c *Cache) scoreChunk(ctx context.Context, part []*headhunter.Vacancy, resumeID uuid.UUID, resumeText, extra string) ([]Match, error) {
	verdicts, err := c.filter.Filter(ctx, part, resumeText, extra)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*headhunter.Vacancy, len(part))
	for _, v := range part {
		byID[v.ID] = v
	}

	now := c.now().UTC()
	matches := make([]Match, 0, len(verdicts))
	for _, verdict := range verdicts {
		v, ok := byID[verdict.VacancyID]
		if !ok || math.IsNaN(verdict.Confidence) || math.IsInf(verdict.Confidence, 0) {
			continue
		}
		matches = append(matches, Match{
			ResumeID:    resumeID,
			VacancyID:   v.ID,
			VacancyHash: Hash(v),
			Confidence:  clamp(verdict.Confidence),
			Reason:      verdict.Reason,
			ComputedAt:  now,
		})
	}
	return matches, nil
}

// persist stores fresh verdicts. It is best effort: the LLM cost is already
// paid, so a write failure only loses the cache entry.
func (c *Cache) persist(ctx context.Context, log *zap.Logger, computed map[string]Match) {
	batch := make([]Match, 0, len(computed))
	for _, m := range computed {
		batch = append(batch, m)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := c.repo.PutBatch(ctx, batch); err != nil {
		log.Warn("failed to persist llm verdicts", zap.Int("verdicts", len(batch)), zap.Error(err))
	}
}

func chunk(vacancies []*headhunter.Vacancy, size int) [][]*headhunter.Vacancy {
	var chunks [][]*headhunter.Vacancy
	for start := 0; start < len(vacancies); start += size {
		end := start + size
		if end > len(vacancies) {
			end = len(vacancies)
		}
		chunks = append(chunks, vacancies[start:end])
	}
	return chunks
}

func clamp(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
