package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/logger"
)

type employersFilter struct {
	toggle
	employers []string
	logger    *zap.Logger
}

// NewExcludedEmployers creates a filter that removes vacancies of the given employer ids.
func NewExcludedEmployers(employers []string, log *zap.Logger) Filter {
	clean := make([]string, 0, len(employers))
	for _, e := range employers {
		if e = strings.TrimSpace(e); e != "" {
			clean = append(clean, e)
		}
	}
	return &employersFilter{employers: clean, logger: logger.OrNop(log)}
}

func (f *employersFilter) Name() string { return "employers" }

func (f *employersFilter) Validate() error { return nil }

func (f *employersFilter) Apply(_ context.Context, v headhunter.Vacancies) (headhunter.Vacancies, Step, error) {
	initial := v.Len()
	if len(f.employers) == 0 {
		return v, Step{Initial: initial, Dropped: 0, Left: v.Len()}, nil
	}

	kept, excluded := exclude(v, headhunter.VacancyEmployerIDField, f.employers)
	if len(excluded) > 0 {
		f.logger.Info("excluding vacancies by employers",
			zap.Strings("excluded_employers", f.employers),
			zap.Strings("excluded_vacancies", excluded),
			zap.Int("vacancies_left", kept.Len()),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: kept.Len()}, nil
}

func (f *employersFilter) Status() Status {
	details := map[string]string{}
	if len(f.employers) > 0 {
		details["employers"] = strings.Join(f.employers, ",")
	}
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason, Details: details}
}
