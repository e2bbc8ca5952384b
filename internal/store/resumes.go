package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/spigell/hh-autoreply/internal/autoreply"
)

// ErrResumeNotFound is returned by GetResume for unknown ids.
var ErrResumeNotFound = errors.New("resume not found")

const resumeColumns = `id, user_id, hash, title, text, is_auto_reply,
	filter_text, filter_area, filter_salary, filter_extra, excluded_employers`

// ListAutoReplyEnabled returns every résumé with automation enabled.
func (s *Store) ListAutoReplyEnabled(ctx context.Context) ([]autoreply.Resume, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resumeColumns+` FROM resumes WHERE is_auto_reply ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query resumes: %w", err)
	}
	defer rows.Close()

	var resumes []autoreply.Resume
	for rows.Next() {
		r, err := scanResume(rows)
		if err != nil {
			return nil, err
		}
		resumes = append(resumes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resumes: %w", err)
	}
	return resumes, nil
}

// GetResume loads a single résumé.
func (s *Store) GetResume(ctx context.Context, id uuid.UUID) (autoreply.Resume, error) {
	r, err := scanResume(s.pool.QueryRow(ctx, `SELECT `+resumeColumns+` FROM resumes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return autoreply.Resume{}, ErrResumeNotFound
	}
	return r, err
}

// IsAutoReplyEnabled re-reads the automation flag. A deleted résumé counts
// as disabled.
func (s *Store) IsAutoReplyEnabled(ctx context.Context, id uuid.UUID) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx, `SELECT is_auto_reply FROM resumes WHERE id = $1`, id).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query auto reply flag: %w", err)
	}
	return enabled, nil
}

func scanResume(row pgx.Row) (autoreply.Resume, error) {
	var (
		r      autoreply.Resume
		text   pgtype.Text
		area   pgtype.Text
		salary pgtype.Int4
	)

	err := row.Scan(&r.ID, &r.UserID, &r.Hash, &r.Title, &r.Text, &r.AutoReply,
		&text, &area, &salary, &r.Filter.Extra, &r.Filter.ExcludedEmployers)
	if errors.Is(err, pgx.ErrNoRows) {
		return autoreply.Resume{}, err
	}
	if err != nil {
		return autoreply.Resume{}, fmt.Errorf("scan resume: %w", err)
	}

	r.Filter.Text = text.String
	r.Filter.Area = area.String
	if salary.Valid {
		v := int(salary.Int32)
		r.Filter.Salary = &v
	}
	return r, nil
}
