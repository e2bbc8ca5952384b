package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spigell/hh-autoreply/internal/autoreply"
)

// AppliedVacancyIDs lists vacancies the résumé already applied to.
func (s *Store) AppliedVacancyIDs(ctx context.Context, resumeID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT vacancy_id FROM applications WHERE resume_id = $1`, resumeID)
	if err != nil {
		return nil, fmt.Errorf("query applications: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect applications: %w", err)
	}
	return ids, nil
}

// RecordApplication stores one submission in its own transaction so a
// failure never touches earlier rows.
func (s *Store) RecordApplication(ctx context.Context, app autoreply.Application) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO applications (resume_id, user_id, vacancy_id, negotiation_id, letter, confidence, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (resume_id, vacancy_id) DO NOTHING
		`, app.ResumeID, app.UserID, app.VacancyID, app.NegotiationID, app.Letter, app.Confidence, app.SubmittedAt)
		if err != nil {
			return fmt.Errorf("insert application: %w", err)
		}
		return nil
	})
}
