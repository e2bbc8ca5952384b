package filtering

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/logger"
)

// AppliedHistory lists vacancies a résumé already applied to.
type AppliedHistory interface {
	AppliedVacancyIDs(ctx context.Context, resumeID uuid.UUID) ([]string, error)
}

type appliedHistoryFilter struct {
	toggle
	history  AppliedHistory
	resumeID uuid.UUID
	logger   *zap.Logger
}

// NewAppliedHistory creates a filter that removes vacancies the résumé has
// already applied to.
func NewAppliedHistory(history AppliedHistory, resumeID uuid.UUID, log *zap.Logger) Filter {
	return &appliedHistoryFilter{
		history:  history,
		resumeID: resumeID,
		logger:   logger.OrNop(log),
	}
}

func (f *appliedHistoryFilter) Name() string { return "applied_history" }

func (f *appliedHistoryFilter) Validate() error {
	if f.history == nil {
		return errors.New("application history is required")
	}
	if f.resumeID == uuid.Nil {
		return errors.New("resume id is required")
	}
	return nil
}

func (f *appliedHistoryFilter) Apply(ctx context.Context, v headhunter.Vacancies) (headhunter.Vacancies, Step, error) {
	initial := v.Len()

	ids, err := f.history.AppliedVacancyIDs(ctx, f.resumeID)
	if err != nil {
		return v, Step{}, fmt.Errorf("get applied vacancies: %w", err)
	}

	kept, excluded := exclude(v, headhunter.VacancyIDField, ids)
	if len(excluded) > 0 {
		f.logger.Info("excluding already applied vacancies",
			zap.Strings("excluded_vacancies", excluded),
			zap.Int("vacancies_left", kept.Len()),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: kept.Len()}, nil
}

func (f *appliedHistoryFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"exclude_applied": strconv.FormatBool(f.IsEnabled())},
	}
}
