package headhunter

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/spigell/hh-autoreply/internal/session"
)

const (
	apiNegotiationPath = "/negotiations"
)

// Application is a response to a vacancy on behalf of a résumé.
type Application struct {
	VacancyID  string
	ResumeHash string
	Letter     string
	// TestAnswers are extra form fields for vacancies with a screening test,
	// keyed by the board's field name.
	TestAnswers map[string]string
}

// SubmitResult describes an accepted application.
type SubmitResult struct {
	// NegotiationID is parsed from the Location header, when present.
	NegotiationID string
}

// SubmitApplication posts a negotiation for the vacancy.
func (c *Client) SubmitApplication(ctx context.Context, headers session.Headers, cookies session.Cookies, app Application) (*SubmitResult, session.Cookies, error) {
	if app.VacancyID == "" || app.ResumeHash == "" {
		return nil, nil, errors.New("vacancy id and resume hash are required")
	}

	data := map[string]string{
		"resume_id":  app.ResumeHash,
		"vacancy_id": app.VacancyID,
	}
	if letter := strings.TrimSpace(app.Letter); letter != "" {
		data["message"] = letter
	}
	for k, v := range app.TestAnswers {
		data[k] = v
	}

	creds := credentials{headers: headers, cookies: cookies}
	resp, observed, err := c.postFormData(ctx, creds, c.APIURL+apiNegotiationPath, data)
	if err != nil {
		return nil, observed, err
	}

	result := &SubmitResult{}
	if loc := resp.Header.Get("Location"); loc != "" {
		result.NegotiationID = path.Base(loc)
	}
	return result, observed, nil
}
