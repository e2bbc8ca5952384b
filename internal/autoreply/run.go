package autoreply

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/ai"
	"github.com/spigell/hh-autoreply/internal/filtering"
	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/logger"
	"github.com/spigell/hh-autoreply/internal/matchcache"
	"github.com/spigell/hh-autoreply/internal/quota"
	"github.com/spigell/hh-autoreply/internal/session"
	"github.com/spigell/hh-autoreply/internal/telemetry"
	"github.com/spigell/hh-autoreply/internal/utils"
)

const (
	DefaultMaxVacancies = 200
	DefaultPerPage      = headhunter.MaxPerPage
	DefaultPacing       = 30 * time.Second
	DefaultLetter       = "Hello! I would like to apply for this vacancy. My résumé is attached."

	recordTimeout = 10 * time.Second
)

// Board is the job board as seen by a run: rate limited and session aware.
type Board interface {
	FetchVacancies(ctx context.Context, userID uuid.UUID, query headhunter.SearchQuery) (*headhunter.VacancyPage, error)
	Submit(ctx context.Context, userID uuid.UUID, app headhunter.Application) (*headhunter.SubmitResult, error)
	FetchResume(ctx context.Context, userID uuid.UUID, hash string) (*headhunter.ResumeDetails, error)
}

// Sessions reports whether the user has a linked job board account.
type Sessions interface {
	Get(ctx context.Context, userID uuid.UUID) (session.Credential, error)
}

// Matcher scores vacancies against a résumé.
type Matcher interface {
	Filter(ctx context.Context, vacancies []*headhunter.Vacancy, resumeID uuid.UUID, resumeText, extra string) ([]matchcache.Match, error)
}

// Resumes reads résumé settings.
type Resumes interface {
	ListAutoReplyEnabled(ctx context.Context) ([]Resume, error)
	IsAutoReplyEnabled(ctx context.Context, resumeID uuid.UUID) (bool, error)
}

// Applications stores submitted applications. Record runs in its own
// transaction.
type Applications interface {
	filtering.AppliedHistory
	RecordApplication(ctx context.Context, app Application) error
}

// Deps are the collaborators of a run.
type Deps struct {
	Board        Board
	Sessions     Sessions
	Matcher      Matcher
	Resumes      Resumes
	Applications Applications
	Quota        quota.Service
	Letters      ai.CoverLetterGenerator
}

func (d Deps) validate() error {
	switch {
	case d.Board == nil:
		return errors.New("board is required")
	case d.Sessions == nil:
		return errors.New("sessions are required")
	case d.Matcher == nil:
		return errors.New("matcher is required")
	case d.Resumes == nil:
		return errors.New("resumes are required")
	case d.Applications == nil:
		return errors.New("applications are required")
	case d.Quota == nil:
		return errors.New("quota service is required")
	case d.Letters == nil:
		return errors.New("cover letter generator is required")
	}
	return nil
}

type Config struct {
	MaxVacancies  int
	PerPage       int
	Pacing        time.Duration
	DefaultLetter string
}

// ReviewFunc sees the final candidate list before submissions start and
// returns the candidates to submit. Returning none ends the run.
type ReviewFunc func(ctx context.Context, resume Resume, candidates []matchcache.Match) ([]matchcache.Match, error)

type Option func(*Runner)

// WithReview installs a review step before submissions.
func WithReview(fn ReviewFunc) Option {
	return func(r *Runner) { r.review = fn }
}

// WithSleeper replaces the pacing sleep.
func WithSleeper(sleep utils.Sleeper) Option {
	return func(r *Runner) { r.sleep = sleep }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes AutoReplyRuns.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	review ReviewFunc
	sleep  utils.Sleeper
	now    func() time.Time
}

func NewRunner(deps Deps, cfg Config, log *zap.Logger, opts ...Option) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	if cfg.MaxVacancies <= 0 {
		cfg.MaxVacancies = DefaultMaxVacancies
	}
	if cfg.PerPage <= 0 || cfg.PerPage > headhunter.MaxPerPage {
		cfg.PerPage = DefaultPerPage
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = DefaultPacing
	}
	if cfg.DefaultLetter == "" {
		cfg.DefaultLetter = DefaultLetter
	}

	r := &Runner{
		deps:   deps,
		cfg:    cfg,
		logger: logger.OrNop(log).Named("autoreply"),
		sleep:  utils.WaitFor,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes one auto-reply run for the résumé. Missing settings, a
// missing session or disabled automation end the run with a nil error. A
// quota stop returns *quota.ExceededError.
func (r *Runner) Run(ctx context.Context, resume Resume) (Report, error) {
	log := logger.WithFields(r.logger, logger.ResumeFields(resume.UserID, resume.ID)...)
	report := Report{}

	if err := resume.validate(); err != nil {
		log.Info("skipping resume", zap.Error(err))
		report.StopReason = StopMissingFilter
		return report, nil
	}

	if _, err := r.deps.Sessions.Get(ctx, resume.UserID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			log.Info("skipping resume", zap.String("reason", "no job board session"))
			report.StopReason = StopNoSession
			return report, nil
		}
		return report, fmt.Errorf("get session: %w", err)
	}

	resumeText, err := r.resumeText(ctx, resume)
	if err != nil {
		return report, err
	}

	vacancies, err := r.fetch(ctx, log, resume)
	report.Fetched = vacancies.Len()
	if err != nil {
		return report, err
	}

	candidates, err := r.candidates(ctx, log, resume, resumeText, vacancies, &report)
	if err != nil {
		return report, err
	}

	if len(candidates) == 0 {
		log.Info("no candidates to apply", zap.Int("fetched", report.Fetched), zap.Int("matched", report.Matched))
		report.StopReason = StopNoCandidates
		return report, nil
	}

	enabled, err := r.deps.Resumes.IsAutoReplyEnabled(ctx, resume.ID)
	if err != nil {
		return report, fmt.Errorf("check automation: %w", err)
	}
	if !enabled {
		log.Info("automation was disabled, stopping before submissions")
		report.StopReason = StopDisabled
		return report, nil
	}

	if r.review != nil {
		candidates, err = r.review(ctx, resume, candidates)
		if err != nil {
			return report, fmt.Errorf("review candidates: %w", err)
		}
		if len(candidates) == 0 {
			report.StopReason = StopRejected
			return report, nil
		}
	}

	return r.submitAll(ctx, log, resume, resumeText, candidates, report)
}

func (r *Runner) resumeText(ctx context.Context, resume Resume) (string, error) {
	if resume.Text != "" {
		return resume.Text, nil
	}

	details, err := r.deps.Board.FetchResume(ctx, resume.UserID, resume.Hash)
	if err != nil {
		return "", fmt.Errorf("fetch resume: %w", err)
	}
	if details.Text == "" {
		return "", errors.New("resume has no text to match against")
	}
	return details.Text, nil
}

// fetch gathers up to MaxVacancies search results, page by page. A failure
// after the first page keeps what was already fetched.
func (r *Runner) fetch(ctx context.Context, log *zap.Logger, resume Resume) (headhunter.Vacancies, error) {
	pages := (r.cfg.MaxVacancies + r.cfg.PerPage - 1) / r.cfg.PerPage

	var result headhunter.Vacancies
	seen := make(map[string]struct{})

	for page := 0; page < pages; page++ {
		query := headhunter.SearchQuery{
			Text:           resume.Filter.Text,
			Area:           resume.Filter.Area,
			Salary:         *resume.Filter.Salary,
			OnlyWithSalary: *resume.Filter.Salary > 0,
			Page:           page,
			PerPage:        r.cfg.PerPage,
		}

		resp, err := r.deps.Board.FetchVacancies(ctx, resume.UserID, query)
		if err != nil {
			if ctx.Err() != nil || page == 0 {
				return result, fmt.Errorf("fetch vacancies page %d: %w", page, err)
			}
			log.Warn("fetching next page failed, continuing with fetched vacancies", zap.Int("page", page), zap.Error(err))
			break
		}

		for _, v := range resp.Items {
			if _, ok := seen[v.ID]; ok {
				continue
			}
			seen[v.ID] = struct{}{}
			result = append(result, v)
		}

		if page+1 >= resp.Pages {
			break
		}
	}

	log.Debug("fetched vacancies", zap.Int("count", result.Len()), zap.Int("pages", pages))
	return result, nil
}

// candidates runs the pre-match filters, the match cache and the test
// exclusion, then sorts and caps the result.
func (r *Runner) candidates(ctx context.Context, log *zap.Logger, resume Resume, resumeText string, vacancies headhunter.Vacancies, report *Report) ([]matchcache.Match, error) {
	pre := []filtering.Filter{
		filtering.NewAppliedHistory(r.deps.Applications, resume.ID, log),
		filtering.NewExcludedEmployers(resume.Filter.ExcludedEmployers, log),
	}
	if len(resume.Filter.ExcludedEmployers) == 0 {
		filtering.DisableByName(pre, "employers", "no excluded employers")
	}
	log.Debug("pre-match filters", zap.Any("filters", filtering.Describe(pre)))

	vacancies, err := filtering.Run(ctx, log, pre, vacancies)
	if err != nil {
		return nil, err
	}

	matches, err := r.deps.Matcher.Filter(ctx, vacancies, resume.ID, resumeText, resume.Filter.Extra)
	if err != nil {
		return nil, fmt.Errorf("match vacancies: %w", err)
	}
	report.Matched = len(matches)

	matched := make(headhunter.Vacancies, 0, len(matches))
	for _, m := range matches {
		matched = append(matched, m.Vacancy)
	}
	applicable, err := filtering.Run(ctx, log, []filtering.Filter{filtering.NewWithTest(log)}, matched)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]struct{}, applicable.Len())
	for _, id := range applicable.IDs() {
		keep[id] = struct{}{}
	}

	candidates := make([]matchcache.Match, 0, len(keep))
	for _, m := range matches {
		if _, ok := keep[m.VacancyID]; ok {
			candidates = append(candidates, m)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > r.cfg.MaxVacancies {
		candidates = candidates[:r.cfg.MaxVacancies]
	}

	report.Candidates = len(candidates)
	return candidates, nil
}

func (r *Runner) submitAll(ctx context.Context, log *zap.Logger, resume Resume, resumeText string, candidates []matchcache.Match, report Report) (Report, error) {
	log.Info("submitting applications", zap.Int("candidates", len(candidates)))

	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			report.StopReason = StopCancelled
			return report, err
		}

		vlog := log.With(zap.String(logger.FieldVacancyID, candidate.VacancyID))

		err := r.submit(ctx, vlog, resume, resumeText, candidate)
		var exceeded *quota.ExceededError
		switch {
		case err == nil:
			report.Submitted++
		case errors.Is(err, ErrAutomationDisabled):
			log.Info("automation was disabled, stopping", zap.Int("submitted", report.Submitted))
			report.StopReason = StopDisabled
			return report, nil
		case errors.As(err, &exceeded):
			log.Info("quota exceeded, stopping",
				zap.Int("count", exceeded.Count),
				zap.Int("limit", exceeded.Limit),
				zap.Duration("reset_in", exceeded.ResetIn),
			)
			report.StopReason = StopQuotaExceeded
			return report, err
		case ctx.Err() != nil:
			report.StopReason = StopCancelled
			return report, ctx.Err()
		default:
			report.Failed++
			var status *headhunter.StatusError
			if errors.As(err, &status) && status.Temporary() {
				vlog.Warn("job board is temporarily unavailable, skipping vacancy", zap.Error(err))
			} else {
				vlog.Error("failed to apply to vacancy", zap.Error(err))
			}
		}

		// Failed attempts are paced too.
		if i < len(candidates)-1 && r.cfg.Pacing > 0 {
			if err := r.sleep(ctx, r.cfg.Pacing); err != nil {
				report.StopReason = StopCancelled
				return report, err
			}
		}
	}

	report.StopReason = StopCompleted
	return report, nil
}

// submit applies to one vacancy. Settings and quota are re-read right before
// the submission because both change concurrently.
func (r *Runner) submit(ctx context.Context, log *zap.Logger, resume Resume, resumeText string, candidate matchcache.Match) error {
	enabled, err := r.deps.Resumes.IsAutoReplyEnabled(ctx, resume.ID)
	if err != nil {
		return fmt.Errorf("check automation: %w", err)
	}
	if !enabled {
		return ErrAutomationDisabled
	}

	if err := r.deps.Quota.Check(ctx, resume.UserID); err != nil {
		return err
	}

	letter, err := r.deps.Letters.Generate(ctx, candidate.Vacancy, resumeText)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("cover letter generation failed, using default letter", zap.Error(err))
		letter = r.cfg.DefaultLetter
	}

	result, err := r.deps.Board.Submit(ctx, resume.UserID, headhunter.Application{
		VacancyID:  candidate.VacancyID,
		ResumeHash: resume.Hash,
		Letter:     letter,
	})
	if err != nil {
		telemetry.Submissions.WithLabelValues("failed").Inc()
		return fmt.Errorf("submit application: %w", err)
	}
	telemetry.Submissions.WithLabelValues("submitted").Inc()

	var negotiationID string
	if result != nil {
		negotiationID = result.NegotiationID
	}

	// The application exists on the board now. Bookkeeping must finish even
	// if the run is being cancelled.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.deps.Applications.RecordApplication(bookCtx, Application{
		ResumeID:      resume.ID,
		UserID:        resume.UserID,
		VacancyID:     candidate.VacancyID,
		NegotiationID: negotiationID,
		Letter:        letter,
		Confidence:    candidate.Confidence,
		SubmittedAt:   r.now(),
	}); err != nil {
		log.Error("failed to record application", zap.Error(err))
	}

	if err := r.deps.Quota.Consume(bookCtx, resume.UserID); err != nil {
		log.Error("failed to consume quota", zap.Error(err))
	}

	log.Info("successfully applied to vacancy",
		zap.String("vacancy_name", candidate.Vacancy.Name),
		zap.String("confidence", strconv.FormatFloat(candidate.Confidence, 'f', 2, 64)),
	)
	return nil
}
