package gemini

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/ai"
	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/logger"
	"github.com/spigell/hh-autoreply/internal/utils"
)

// The board rejects longer negotiation messages.
const maxLetterLength = 10000

//go:embed prompts/letter.md
var letterSystemPrompt string

// CoverLetter writes cover letters with Gemini.
type CoverLetter struct {
	generator contentGenerator
	caller    *ai.Caller
	logger    *zap.Logger
	maxLogLen int
}

func NewCoverLetter(generator contentGenerator, caller *ai.Caller, log *zap.Logger, maxLogLength int) *CoverLetter {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	return &CoverLetter{
		generator: generator,
		caller:    caller,
		logger:    logger.WithCommonFields(log, ProviderName, generator.Model()).Named("letter"),
		maxLogLen: maxLogLength,
	}
}

func (c *CoverLetter) Generate(ctx context.Context, vacancy *headhunter.Vacancy, resumeText string) (string, error) {
	if vacancy == nil {
		return "", fmt.Errorf("vacancy is required")
	}

	message := fmt.Sprintf("Resume:\n%s\n\nVacancy:\n%s", strings.TrimSpace(resumeText), vacancy.Summary())

	return ai.Call(ctx, c.caller, ai.Request[string]{
		Name: "cover_letter",
		Invoke: func(ctx context.Context) (string, error) {
			raw, err := c.generator.GenerateContent(ctx, letterSystemPrompt, message)
			if err == nil {
				c.logger.Debug("cover letter generated",
					zap.String(logger.FieldVacancyID, vacancy.ID),
					zap.Int("response_length", utf8.RuneCountInString(raw)),
					zap.String("response_preview", utils.TruncateForLog(raw, c.maxLogLen)),
				)
			}
			return raw, err
		},
		Parse: parseLetter,
		Validate: func(letter string) string {
			if n := utf8.RuneCountInString(letter); n > maxLetterLength {
				return fmt.Sprintf("letter is %d characters long, limit is %d", n, maxLetterLength)
			}
			return ""
		},
	})
}

func parseLetter(raw string) ai.Outcome[string] {
	letter := strings.TrimSpace(extractJSON(raw))
	if letter == "" {
		return ai.Invalid[string]("empty letter")
	}
	return ai.Parsed(letter)
}
