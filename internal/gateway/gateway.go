// Package gateway is the only path from the automation core to the job board.
// Each call loads the user's session, waits for the shared rate limiter, and
// merges cookies the board set back into the session.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/logger"
	"github.com/spigell/hh-autoreply/internal/ratelimit"
	"github.com/spigell/hh-autoreply/internal/session"
	"github.com/spigell/hh-autoreply/internal/utils"
)

// SiteClient is the job board API. Every method returns the cookies the
// board set during the call, even on failure.
type SiteClient interface {
	FetchVacancyList(ctx context.Context, headers session.Headers, cookies session.Cookies, query headhunter.SearchQuery) (*headhunter.VacancyPage, session.Cookies, error)
	SubmitApplication(ctx context.Context, headers session.Headers, cookies session.Cookies, app headhunter.Application) (*headhunter.SubmitResult, session.Cookies, error)
	FetchResume(ctx context.Context, headers session.Headers, cookies session.Cookies, id string) (*headhunter.ResumeDetails, session.Cookies, error)
}

// Sessions is the subset of session.Store used here.
type Sessions interface {
	Get(ctx context.Context, userID uuid.UUID) (session.Credential, error)
	Merge(ctx context.Context, userID uuid.UUID, observed session.Cookies) (session.Credential, error)
}

const (
	defaultMergeAttempts = 3
	defaultMergeBackoff  = 200 * time.Millisecond
)

type Gateway struct {
	client        SiteClient
	limiter       ratelimit.Limiter
	sessions      Sessions
	logger        *zap.Logger
	mergeAttempts int
	mergeBackoff  time.Duration
	sleep         utils.Sleeper
}

func New(client SiteClient, limiter ratelimit.Limiter, sessions Sessions, log *zap.Logger) *Gateway {
	return &Gateway{
		client:        client,
		limiter:       limiter,
		sessions:      sessions,
		logger:        logger.OrNop(log).Named("gateway"),
		mergeAttempts: defaultMergeAttempts,
		mergeBackoff:  defaultMergeBackoff,
		sleep:         utils.WaitFor,
	}
}

// FetchVacancies returns one page of search results for the user.
func (g *Gateway) FetchVacancies(ctx context.Context, userID uuid.UUID, query headhunter.SearchQuery) (*headhunter.VacancyPage, error) {
	var page *headhunter.VacancyPage
	err := g.call(ctx, userID, func(cred session.Credential) (session.Cookies, error) {
		var observed session.Cookies
		var err error
		page, observed, err = g.client.FetchVacancyList(ctx, cred.Headers, cred.Cookies, query)
		return observed, err
	})
	return page, err
}

// Submit sends an application on behalf of the user.
func (g *Gateway) Submit(ctx context.Context, userID uuid.UUID, app headhunter.Application) (*headhunter.SubmitResult, error) {
	var result *headhunter.SubmitResult
	err := g.call(ctx, userID, func(cred session.Credential) (session.Cookies, error) {
		var observed session.Cookies
		var err error
		result, observed, err = g.client.SubmitApplication(ctx, cred.Headers, cred.Cookies, app)
		return observed, err
	})
	return result, err
}

// FetchResume loads a résumé from the board by its hash.
func (g *Gateway) FetchResume(ctx context.Context, userID uuid.UUID, hash string) (*headhunter.ResumeDetails, error) {
	var details *headhunter.ResumeDetails
	err := g.call(ctx, userID, func(cred session.Credential) (session.Cookies, error) {
		var observed session.Cookies
		var err error
		details, observed, err = g.client.FetchResume(ctx, cred.Headers, cred.Cookies, hash)
		return observed, err
	})
	return details, err
}

// call runs fn with the user's credential. The credential is read again
// after the limiter wait so cookies rotated by a concurrent call are sent.
func (g *Gateway) call(ctx context.Context, userID uuid.UUID, fn func(session.Credential) (session.Cookies, error)) error {
	// Users without a session do not take a rate limit slot.
	if _, err := g.sessions.Get(ctx, userID); err != nil {
		return err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	cred, err := g.sessions.Get(ctx, userID)
	if err != nil {
		return err
	}

	observed, callErr := fn(cred)
	if len(observed) > 0 {
		g.merge(ctx, userID, observed)
	}
	return callErr
}

// merge stores observed cookies. The outbound call already happened, so a
// failure here is logged and never returned.
func (g *Gateway) merge(ctx context.Context, userID uuid.UUID, observed session.Cookies) {
	// A cancelled run still has to keep the cookies the board just rotated.
	ctx = context.WithoutCancel(ctx)
	log := g.logger.With(zap.Stringer(logger.FieldUserID, userID))

	var err error
	for attempt := 1; attempt <= g.mergeAttempts; attempt++ {
		if _, err = g.sessions.Merge(ctx, userID, observed); err == nil {
			return
		}
		if !errors.Is(err, session.ErrLockNotAcquired) {
			break
		}
		log.Debug("session locked, retrying cookie merge", zap.Int("attempt", attempt))
		if attempt < g.mergeAttempts {
			_ = g.sleep(ctx, g.mergeBackoff*time.Duration(attempt))
		}
	}

	log.Warn("failed to merge observed cookies", zap.Int("cookies", len(observed)), zap.Error(err))
}
