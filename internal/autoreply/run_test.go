package autoreply

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/matchcache"
	"github.com/spigell/hh-autoreply/internal/quota"
	"github.com/spigell/hh-autoreply/internal/session"
)

func newTestRunner(t *testing.T, env *testEnv, cfg Config, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithSleeper(env.sleeper)}, opts...)
	runner, err := NewRunner(env.deps(), cfg, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return runner
}

func TestRunSubmitsWithPacing(t *testing.T) {
	env := newTestEnv(3)
	runner := newTestRunner(t, env, Config{Pacing: 30 * time.Second})

	report, err := runner.Run(context.Background(), testResume())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := Report{Fetched: 3, Matched: 3, Candidates: 3, Submitted: 3, StopReason: StopCompleted}
	if report != want {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(env.slept) != 2 || env.slept[0] != 30*time.Second {
		t.Fatalf("expected pacing between submissions only, got %v", env.slept)
	}
	if env.quota.consumed != 3 || len(env.apps.recorded) != 3 {
		t.Fatalf("expected quota and history for every submission, got %d/%d", env.quota.consumed, len(env.apps.recorded))
	}
	if env.apps.recorded[0].NegotiationID != "n-1" || env.apps.recorded[0].Letter != "letter for 1" {
		t.Fatalf("unexpected recorded application %+v", env.apps.recorded[0])
	}
	if env.board.queries[0].Text != "golang" || env.board.queries[0].Salary != 100000 || !env.board.queries[0].OnlyWithSalary {
		t.Fatalf("unexpected search query %+v", env.board.queries[0])
	}
}

func TestRunCapsAndSortsCandidates(t *testing.T) {
	env := newTestEnv(0)
	env.board.pages = map[int]*headhunter.VacancyPage{
		0: {Items: []*headhunter.Vacancy{{ID: "seed"}}, Pages: 10},
		1: {Items: []*headhunter.Vacancy{{ID: "seed-2"}}, Pages: 10},
	}

	fixed := make([]matchcache.Match, 0, 500)
	for i := 0; i < 500; i++ {
		id := strconv.Itoa(i)
		fixed = append(fixed, matchcache.Match{
			VacancyID:  id,
			Confidence: float64(i%50) / 50,
			Vacancy:    &headhunter.Vacancy{ID: id},
		})
	}
	env.matcher.fixed = fixed

	runner := newTestRunner(t, env, Config{MaxVacancies: 200, PerPage: 100})

	report, err := runner.Run(context.Background(), testResume())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Candidates != 200 || report.Submitted != 200 {
		t.Fatalf("expected 200 submissions, got %+v", report)
	}
	if len(env.board.queries) != 2 {
		t.Fatalf("expected two pages for 200 vacancies, got %d", len(env.board.queries))
	}

	submitted := env.board.submittedIDs()
	byID := make(map[string]float64, len(fixed))
	for _, m := range fixed {
		byID[m.VacancyID] = m.Confidence
	}
	for i := 1; i < len(submitted); i++ {
		if byID[submitted[i-1]] < byID[submitted[i]] {
			t.Fatalf("candidates not sorted by confidence at %d", i)
		}
	}
	// Ties keep input order.
	if submitted[0] != "49" || submitted[1] != "99" {
		t.Fatalf("unexpected tie order %v", submitted[:2])
	}
}

func TestRunStopsWhenDisabledBeforeSubmissions(t *testing.T) {
	env := newTestEnv(3)
	env.resumes.enabled = func(int) bool { return false }
	runner := newTestRunner(t, env, Config{})

	report, err := runner.Run(context.Background(), testResume())
	if err != nil {
		t.Fatalf("disabled automation must not be an error: %v", err)
	}
	if report.Submitted != 0 || report.StopReason != StopDisabled {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(env.board.submittedIDs()) != 0 || env.letters.calls != 0 {
		t.Fatalf("nothing must be submitted")
	}
}

func TestRunStopsWhenDisabledMidRun(t *testing.T) {
	env := newTestEnv(3)
	// first call is the check before submissions, second is the first candidate
	env.resumes.enabled = func(call int) bool { return call <= 2 }
	runner := newTestRunner(t, env, Config{})

	report, err := runner.Run(context.Background(), testResume())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Submitted != 1 || report.StopReason != StopDisabled {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunQuotaExceeded(t *testing.T) {
	env := newTestEnv(3)
	env.quota.checkErr = &quota.ExceededError{Count: 10, Limit: 10, ResetIn: time.Hour}
	runner := newTestRunner(t, env, Config{})

	report, err := runner.Run(context.Background(), testResume())

	var exceeded *quota.ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if exceeded.Count != 10 || exceeded.Limit != 10 {
		t.Fatalf("unexpected quota error %+v", exceeded)
	}
	if report.StopReason != StopQuotaExceeded || report.Submitted != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if env.letters.calls != 0 {
		t.Fatalf("no cover letter must be generated, got %d calls", env.letters.calls)
	}
	if env.quota.checks != 1 {
		t.Fatalf("expected a single quota check, got %d", env.quota.checks)
	}
}

func TestRunFallsBackToDefaultLetter(t *testing.T) {
	env := newTestEnv(1)
	env.letters.err = errors.New("model unavailable")

	core, logs := observer.New(zap.WarnLevel)
	runner, err := NewRunner(env.deps(), Config{DefaultLetter: "plain letter"}, zap.New(core), WithSleeper(env.sleeper))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	report, err := runner.Run(context.Background(), testResume())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Submitted != 1 {
		t.Fatalf("expected submission with fallback letter, got %+v", report)
	}
	if env.board.submitted[0].Letter != "plain letter" {
		t.Fatalf("unexpected letter %q", env.board.submitted[0].Letter)
	}
	if logs.FilterMessage("cover letter generation failed, using default letter").Len() != 1 {
		t.Fatalf("expected fallback warning")
	}
}

func TestRunContinuesAfterFailedSubmission(t *testing.T) {
	env := newTestEnv(3)
	env.board.failOn = map[string]error{"1": errors.New("bad gateway")}
	runner := newTestRunner(t, env, Config{Pacing: 30 * time.Second})

	report, err := runner.Run(context.Background(), testResume())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Submitted != 2 || report.Failed != 1 || report.StopReason != StopCompleted {
		t.Fatalf("unexpected report %+v", report)
	}
	if fmt.Sprint(env.board.submittedIDs()) != "[2 3]" {
		t.Fatalf("unexpected submissions %v", env.board.submittedIDs())
	}
	if len(env.slept) != 2 {
		t.Fatalf("expected pacing after the failed submission too, got %v", env.slept)
	}
	if env.quota.consumed != 2 {
		t.Fatalf("failed submission must not consume quota, got %d", env.quota.consumed)
	}
}

func TestRunLogsTemporaryBoardErrorsAsWarnings(t *testing.T) {
	env := newTestEnv(2)
	env.board.failOn = map[string]error{
		"1": &headhunter.StatusError{Code: 503, Status: "503 Service Unavailable"},
		"2": &headhunter.StatusError{Code: 403, Status: "403 Forbidden"},
	}

	core, logs := observer.New(zap.WarnLevel)
	runner, err := NewRunner(env.deps(), Config{}, zap.New(core), WithSleeper(env.sleeper))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	report, err := runner.Run(context.Background(), testResume())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Failed != 2 || report.Submitted != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if logs.FilterMessage("job board is temporarily unavailable, skipping vacancy").Len() != 1 {
		t.Fatalf("expected a warning for the 503")
	}
	if logs.FilterMessage("failed to apply to vacancy").Len() != 1 {
		t.Fatalf("expected an error for the 403")
	}
}

func TestRunCancelledDuringPacing(t *testing.T) {
	env := newTestEnv(3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sleep := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	runner := newTestRunner(t, env, Config{Pacing: time.Second}, WithSleeper(sleep))

	report, err := runner.Run(ctx, testResume())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if report.Submitted != 1 || report.StopReason != StopCancelled {
		t.Fatalf("submitted applications must stay intact, got %+v", report)
	}
	if len(env.apps.recorded) != 1 {
		t.Fatalf("expected recorded application, got %d", len(env.apps.recorded))
	}
}

func TestRunExcludesAppliedAndTestVacancies(t *testing.T) {
	env := newTestEnv(0)
	env.board.pages = map[int]*headhunter.VacancyPage{0: {
		Items: []*headhunter.Vacancy{
			{ID: "1"},
			{ID: "2", HasTest: true},
			{ID: "3", Employer: headhunter.Employer{ID: "blocked"}},
			{ID: "4"},
		},
		Pages: 1,
	}}
	env.matcher.scores = map[string]float64{"1": 0.9, "2": 0.95, "3": 0.9, "4": 0.7}
	env.apps.applied = []string{"1"}

	resume := testResume()
	resume.Filter.ExcludedEmployers = []string{"blocked"}

	runner := newTestRunner(t, env, Config{})
	report, err := runner.Run(context.Background(), resume)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if fmt.Sprint(env.matcher.inputs) != "[2 4]" {
		t.Fatalf("applied and excluded employers must be filtered before matching, got %v", env.matcher.inputs)
	}
	if fmt.Sprint(env.board.submittedIDs()) != "[4]" {
		t.Fatalf("vacancies with tests must not be submitted, got %v", env.board.submittedIDs())
	}
	if report.Matched != 2 || report.Candidates != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunSkipsIncompleteResumes(t *testing.T) {
	env := newTestEnv(1)
	runner := newTestRunner(t, env, Config{})

	resume := testResume()
	resume.Filter.Salary = nil

	report, err := runner.Run(context.Background(), resume)
	if err != nil {
		t.Fatalf("skip must not be an error: %v", err)
	}
	if report.StopReason != StopMissingFilter || len(env.board.queries) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunSkipsWithoutSession(t *testing.T) {
	env := newTestEnv(1)
	deps := env.deps()
	deps.Sessions = fakeSessions{err: session.ErrNotFound}

	runner, err := NewRunner(deps, Config{}, nil, WithSleeper(env.sleeper))
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	report, err := runner.Run(context.Background(), testResume())
	if err != nil {
		t.Fatalf("skip must not be an error: %v", err)
	}
	if report.StopReason != StopNoSession {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunFetchesResumeText(t *testing.T) {
	env := newTestEnv(1)
	env.board.resume = &headhunter.ResumeDetails{ID: "resume-hash", Text: "from board"}
	runner := newTestRunner(t, env, Config{})

	resume := testResume()
	resume.Text = ""

	if _, err := runner.Run(context.Background(), resume); err != nil {
		t.Fatalf("run: %v", err)
	}

	env.board.resume = nil
	if _, err := runner.Run(context.Background(), resume); err == nil {
		t.Fatalf("expected error without résumé text")
	}
}

func TestRunReviewRejects(t *testing.T) {
	env := newTestEnv(2)
	review := func(_ context.Context, _ Resume, candidates []matchcache.Match) ([]matchcache.Match, error) {
		if len(candidates) != 2 {
			t.Errorf("unexpected candidates %d", len(candidates))
		}
		return nil, nil
	}
	runner := newTestRunner(t, env, Config{}, WithReview(review))

	report, err := runner.Run(context.Background(), testResume())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.StopReason != StopRejected || len(env.board.submittedIDs()) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestNewRunnerRequiresDeps(t *testing.T) {
	if _, err := NewRunner(Deps{}, Config{}, nil); err == nil {
		t.Fatalf("expected error for missing deps")
	}
}
