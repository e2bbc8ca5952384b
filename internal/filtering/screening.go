package filtering

import (
	"context"

	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/logger"
)

type withTestFilter struct {
	toggle
	logger *zap.Logger
}

// NewWithTest creates a filter that removes vacancies requiring a screening
// test, and archived ones. Neither can be applied to automatically.
func NewWithTest(log *zap.Logger) Filter {
	return &withTestFilter{logger: logger.OrNop(log)}
}

func (f *withTestFilter) Name() string { return "with_test" }

func (f *withTestFilter) Validate() error { return nil }

func (f *withTestFilter) Apply(_ context.Context, v headhunter.Vacancies) (headhunter.Vacancies, Step, error) {
	initial := v.Len()
	kept, excluded := excludeFunc(v, func(vacancy *headhunter.Vacancy) bool {
		return vacancy.HasTest || vacancy.Archived
	})

	if len(excluded) > 0 {
		f.logger.Info("excluding vacancies with tests. It is impossible to apply them",
			zap.Strings("excluded_vacancies", excluded),
			zap.Int("vacancies_left", kept.Len()),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: kept.Len()}, nil
}

func (f *withTestFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}
