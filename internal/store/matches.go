package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spigell/hh-autoreply/internal/matchcache"
)

// GetBatch returns cached verdicts of the résumé keyed by vacancy hash.
func (s *Store) GetBatch(ctx context.Context, resumeID uuid.UUID, hashes []string) (map[string]matchcache.Match, error) {
	out := make(map[string]matchcache.Match, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT resume_id, vacancy_hash, vacancy_id, confidence, reason, computed_at
		FROM vacancy_matches
		WHERE resume_id = $1 AND vacancy_hash = ANY($2)
	`, resumeID, hashes)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m matchcache.Match
		if err := rows.Scan(&m.ResumeID, &m.VacancyHash, &m.VacancyID, &m.Confidence, &m.Reason, &m.ComputedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out[m.VacancyHash] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}

// PutBatch stores verdicts in one round trip. The first stored verdict for
// a pair wins.
func (s *Store) PutBatch(ctx context.Context, matches []matchcache.Match) error {
	if len(matches) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range matches {
		batch.Queue(`
			INSERT INTO vacancy_matches (resume_id, vacancy_hash, vacancy_id, confidence, reason, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (resume_id, vacancy_hash) DO NOTHING
		`, m.ResumeID, m.VacancyHash, m.VacancyID, m.Confidence, m.Reason, m.ComputedAt)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("store matches: %w", err)
	}
	return nil
}
