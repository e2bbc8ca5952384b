package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/autoreply"
	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/logger"
	"github.com/spigell/hh-autoreply/internal/matchcache"
	"github.com/spigell/hh-autoreply/internal/quota"
)

const (
	PromptYes               = "Yes"
	PromptNo                = "No"
	PromptReportByEmployers = "Report by employers"
	PromptList              = "List candidates"
)

var prompt = promptui.Select{
	Label: "Submit applications to these vacancies?",
	Items: []string{PromptYes, PromptNo, PromptReportByEmployers, PromptList},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single auto-reply run for one resume",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("resume", "r", "", "resume id to run for")
	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before submitting applications")
}

// run executes one auto-reply run in the foreground.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := loadConfig(viper.GetViper())
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config.redacted(), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	resumeID, err := uuid.Parse(cmd.Flag("resume").Value.String())
	if err != nil {
		logger.Fatal("resume id is required", zap.Error(err), zap.String("hint", "pass --resume <uuid>"))
	}

	var opts []autoreply.Option
	if cmd.Flag("auto-approve").Value.String() == "false" {
		opts = append(opts, autoreply.WithReview(reviewCandidates(logger)))
	}

	deps, err := build(ctx, config, logger, opts...)
	if err != nil {
		logger.Fatal("building components", zap.Error(err))
	}
	defer deps.Close()

	resume, err := deps.store.GetResume(ctx, resumeID)
	if err != nil {
		logger.Fatal("getting the resume", zap.Error(err), zap.Stringer("resume_id", resumeID))
	}

	logger.Info("starting the run", zap.String("resume", resume.Title), zap.String("search", resume.Filter.Text))

	report, err := deps.runner.Run(ctx, resume)

	fields := []zap.Field{
		zap.String("stop_reason", string(report.StopReason)),
		zap.Int("fetched", report.Fetched),
		zap.Int("matched", report.Matched),
		zap.Int("submitted", report.Submitted),
		zap.Int("failed", report.Failed),
	}

	var exceeded *quota.ExceededError
	switch {
	case err == nil:
		logger.Info("run finished", fields...)
	case errors.As(err, &exceeded):
		logger.Warn("run stopped by quota", append(fields, zap.Error(err))...)
	case errors.Is(err, context.Canceled):
		logger.Info("run interrupted", fields...)
	default:
		logger.Fatal("run failed", append(fields, zap.Error(err))...)
	}
}

// reviewCandidates asks for confirmation before submissions.
func reviewCandidates(logger *zap.Logger) autoreply.ReviewFunc {
	return func(_ context.Context, _ autoreply.Resume, candidates []matchcache.Match) ([]matchcache.Match, error) {
		vacancies := make(headhunter.Vacancies, 0, len(candidates))
		for _, c := range candidates {
			vacancies = append(vacancies, c.Vacancy)
		}

		for {
			logger.Info("current list of candidates", zap.Int("count", len(candidates)))

			_, action, err := prompt.Run()
			if err != nil {
				return nil, err
			}

			switch action {
			case PromptYes:
				return candidates, nil
			case PromptNo:
				logger.Info("exiting", zap.String("reason", "got no from prompt"))
				return nil, nil
			case PromptReportByEmployers:
				pretty, _ := json.MarshalIndent(vacancies.ReportByEmployer(), "", "  ")
				logger.Info(string(pretty), zap.Int("vacancies count", vacancies.Len()))
			case PromptList:
				for _, c := range candidates {
					logger.Info(c.Vacancy.Summary(),
						zap.String("vacancy_id", c.VacancyID),
						zap.Float64("confidence", c.Confidence),
						zap.String("reason", c.Reason),
					)
				}
			default:
				return nil, fmt.Errorf("invalid action: %s", action)
			}
		}
	}
}
