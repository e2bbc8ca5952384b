// Package ai declares the LLM collaborators used by the automation core and
// the retry loop every LLM call site goes through.
package ai

import (
	"context"

	"github.com/spigell/hh-autoreply/internal/headhunter"
)

// Verdict is the relevance score of one vacancy for a résumé. Confidence is
// NaN when the model returned something that is not a number.
type Verdict struct {
	VacancyID  string
	Confidence float64
	Reason     string
}

// FilterService scores a batch of vacancies against a résumé.
type FilterService interface {
	Filter(ctx context.Context, vacancies []*headhunter.Vacancy, resumeText, extra string) ([]Verdict, error)
}

// CoverLetterGenerator writes a cover letter for one vacancy.
type CoverLetterGenerator interface {
	Generate(ctx context.Context, vacancy *headhunter.Vacancy, resumeText string) (string, error)
}
