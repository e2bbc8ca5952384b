package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/ai"
	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/logger"
	"github.com/spigell/hh-autoreply/internal/utils"
)

const defaultMaxLogLength = 200

//go:embed prompts/filter.md
var filterSystemPrompt string

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Filter is the LLM relevance filter: one model call scores a whole batch.
type Filter struct {
	generator contentGenerator
	caller    *ai.Caller
	logger    *zap.Logger
	maxLogLen int
}

func NewFilter(generator contentGenerator, caller *ai.Caller, log *zap.Logger, maxLogLength int) *Filter {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	return &Filter{
		generator: generator,
		caller:    caller,
		logger:    logger.WithCommonFields(log, ProviderName, generator.Model()).Named("filter"),
		maxLogLen: maxLogLength,
	}
}

type filterItem struct {
	ID      string `json:"vacancy_id"`
	Summary string `json:"summary"`
}

type filterRequest struct {
	Resume          string       `json:"resume"`
	ExtraConditions string       `json:"extra_conditions,omitempty"`
	Vacancies       []filterItem `json:"vacancies"`
}

func (f *Filter) Filter(ctx context.Context, vacancies []*headhunter.Vacancy, resumeText, extra string) ([]ai.Verdict, error) {
	if len(vacancies) == 0 {
		return nil, nil
	}

	req := filterRequest{
		Resume:          strings.TrimSpace(resumeText),
		ExtraConditions: strings.TrimSpace(extra),
		Vacancies:       make([]filterItem, 0, len(vacancies)),
	}
	known := make(map[string]struct{}, len(vacancies))
	for _, v := range vacancies {
		req.Vacancies = append(req.Vacancies, filterItem{ID: v.ID, Summary: v.Summary()})
		known[v.ID] = struct{}{}
	}

	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal filter payload: %w", err)
	}
	message := string(payload)

	return ai.Call(ctx, f.caller, ai.Request[[]ai.Verdict]{
		Name: "vacancy_filter",
		Invoke: func(ctx context.Context) (string, error) {
			f.logger.Debug("gemini generate content request",
				zap.Int("vacancies", len(vacancies)),
				zap.Int("prompt_length", utf8.RuneCountInString(message)),
				zap.String("prompt_preview", utils.TruncateForLog(message, f.maxLogLen)),
			)
			raw, err := f.generator.GenerateContent(ctx, filterSystemPrompt, message)
			if err == nil {
				f.logger.Debug("gemini generate content response",
					zap.Int("response_length", utf8.RuneCountInString(raw)),
					zap.String("response_preview", utils.TruncateForLog(raw, f.maxLogLen)),
				)
			}
			return raw, err
		},
		Parse: parseVerdicts,
		Validate: func(verdicts []ai.Verdict) string {
			for _, v := range verdicts {
				if _, ok := known[v.VacancyID]; !ok {
					return fmt.Sprintf("unknown vacancy id %q", v.VacancyID)
				}
			}
			return ""
		},
	})
}

// parseVerdicts accepts either a bare array or {"results": [...]}.
func parseVerdicts(raw string) ai.Outcome[[]ai.Verdict] {
	cleaned := extractJSON(raw)

	var items []map[string]any
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		var wrapped struct {
			Results []map[string]any `json:"results"`
		}
		if err2 := json.Unmarshal([]byte(cleaned), &wrapped); err2 != nil || wrapped.Results == nil {
			return ai.Invalid[[]ai.Verdict](fmt.Sprintf("parse gemini response: %v", err))
		}
		items = wrapped.Results
	}

	verdicts := make([]ai.Verdict, 0, len(items))
	for _, item := range items {
		id := coerceString(item["vacancy_id"])
		if id == "" {
			id = coerceString(item["id"])
		}
		if id == "" {
			return ai.Invalid[[]ai.Verdict]("verdict without vacancy id")
		}
		verdicts = append(verdicts, ai.Verdict{
			VacancyID:  strings.Trim(id, `"`),
			Confidence: coerceFloat(item["confidence"]),
			Reason:     coerceString(item["reason"]),
		})
	}
	return ai.Parsed(verdicts)
}
