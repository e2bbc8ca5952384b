package autoreply

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/matchcache"
	"github.com/spigell/hh-autoreply/internal/session"
)

type fakeBoard struct {
	mu        sync.Mutex
	pages     map[int]*headhunter.VacancyPage
	queries   []headhunter.SearchQuery
	submitted []headhunter.Application
	failOn    map[string]error
	resume    *headhunter.ResumeDetails
}

func (b *fakeBoard) FetchVacancies(_ context.Context, _ uuid.UUID, query headhunter.SearchQuery) (*headhunter.VacancyPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries = append(b.queries, query)
	page, ok := b.pages[query.Page]
	if !ok {
		return nil, errors.New("no such page")
	}
	return page, nil
}

func (b *fakeBoard) Submit(_ context.Context, _ uuid.UUID, app headhunter.Application) (*headhunter.SubmitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failOn[app.VacancyID]; err != nil {
		return nil, err
	}
	b.submitted = append(b.submitted, app)
	return &headhunter.SubmitResult{NegotiationID: "n-" + app.VacancyID}, nil
}

func (b *fakeBoard) FetchResume(context.Context, uuid.UUID, string) (*headhunter.ResumeDetails, error) {
	if b.resume == nil {
		return nil, errors.New("not found")
	}
	return b.resume, nil
}

func (b *fakeBoard) submittedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.submitted))
	for _, app := range b.submitted {
		ids = append(ids, app.VacancyID)
	}
	return ids
}

type fakeSessions struct {
	err error
}

func (s fakeSessions) Get(_ context.Context, userID uuid.UUID) (session.Credential, error) {
	if s.err != nil {
		return session.Credential{}, s.err
	}
	return session.Credential{UserID: userID}, nil
}

// fakeMatcher scores every vacancy with the confidence from scores, or
// returns the fixed list when set.
type fakeMatcher struct {
	mu     sync.Mutex
	scores map[string]float64
	fixed  []matchcache.Match
	inputs []string
}

func (m *fakeMatcher) Filter(_ context.Context, vacancies []*headhunter.Vacancy, resumeID uuid.UUID, _, _ string) ([]matchcache.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vacancies {
		m.inputs = append(m.inputs, v.ID)
	}
	if m.fixed != nil {
		return m.fixed, nil
	}
	var out []matchcache.Match
	for _, v := range vacancies {
		score, ok := m.scores[v.ID]
		if !ok {
			continue
		}
		out = append(out, matchcache.Match{ResumeID: resumeID, VacancyID: v.ID, Confidence: score, Vacancy: v})
	}
	return out, nil
}

type fakeResumes struct {
	mu      sync.Mutex
	list    []Resume
	listErr error
	// enabled is consulted on every IsAutoReplyEnabled call; nil means enabled.
	enabled func(call int) bool
	calls   int
}

func (r *fakeResumes) ListAutoReplyEnabled(context.Context) ([]Resume, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list, r.listErr
}

func (r *fakeResumes) IsAutoReplyEnabled(context.Context, uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.enabled == nil {
		return true, nil
	}
	return r.enabled(r.calls), nil
}

type fakeApplications struct {
	mu       sync.Mutex
	applied  []string
	recorded []Application
}

func (a *fakeApplications) AppliedVacancyIDs(context.Context, uuid.UUID) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied, nil
}

func (a *fakeApplications) RecordApplication(_ context.Context, app Application) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recorded = append(a.recorded, app)
	return nil
}

type fakeQuota struct {
	mu       sync.Mutex
	checkErr error
	checks   int
	consumed int
}

func (q *fakeQuota) Check(context.Context, uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.checks++
	return q.checkErr
}

func (q *fakeQuota) Consume(context.Context, uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumed++
	return nil
}

type fakeLetters struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (l *fakeLetters) Generate(_ context.Context, vacancy *headhunter.Vacancy, _ string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return "", l.err
	}
	return "letter for " + vacancy.ID, nil
}

type testEnv struct {
	board   *fakeBoard
	matcher *fakeMatcher
	resumes *fakeResumes
	apps    *fakeApplications
	quota   *fakeQuota
	letters *fakeLetters
	slept   []time.Duration
}

func newTestEnv(count int) *testEnv {
	items := make([]*headhunter.Vacancy, 0, count)
	scores := make(map[string]float64, count)
	for i := 1; i <= count; i++ {
		id := strconv.Itoa(i)
		items = append(items, &headhunter.Vacancy{ID: id, Name: "vacancy " + id})
		scores[id] = 0.9
	}

	return &testEnv{
		board: &fakeBoard{
			pages: map[int]*headhunter.VacancyPage{0: {Items: items, Pages: 1}},
		},
		matcher: &fakeMatcher{scores: scores},
		resumes: &fakeResumes{},
		apps:    &fakeApplications{},
		quota:   &fakeQuota{},
		letters: &fakeLetters{},
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Board:        e.board,
		Sessions:     fakeSessions{},
		Matcher:      e.matcher,
		Resumes:      e.resumes,
		Applications: e.apps,
		Quota:        e.quota,
		Letters:      e.letters,
	}
}

func (e *testEnv) sleeper(ctx context.Context, d time.Duration) error {
	e.slept = append(e.slept, d)
	return ctx.Err()
}

func testResume() Resume {
	salary := 100000
	return Resume{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Hash:      "resume-hash",
		Text:      "Go developer",
		AutoReply: true,
		Filter:    Filter{Text: "golang", Area: "1", Salary: &salary},
	}
}
