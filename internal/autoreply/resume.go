// Package autoreply runs the per-résumé automation loop and the scheduler
// that keeps one loop alive for every résumé with auto-reply enabled.
package autoreply

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrAutomationDisabled stops a run cleanly. It is not a failure.
var ErrAutomationDisabled = errors.New("automation disabled")

// errMissingFilter marks a résumé whose mandatory search fields are empty.
var errMissingFilter = errors.New("resume filter is incomplete")

// Filter is the search configuration of a résumé. Text, Area and Salary are
// mandatory for automation.
type Filter struct {
	Text              string
	Area              string
	Salary            *int
	Extra             string
	ExcludedEmployers []string
}

// Resume is the entity a run works for.
type Resume struct {
	ID     uuid.UUID
	UserID uuid.UUID
	// Hash is the résumé id on the job board.
	Hash      string
	Title     string
	Text      string
	AutoReply bool
	Filter    Filter
}

func (r Resume) validate() error {
	var missing []string
	if strings.TrimSpace(r.Filter.Text) == "" {
		missing = append(missing, "text")
	}
	if strings.TrimSpace(r.Filter.Area) == "" {
		missing = append(missing, "area")
	}
	if r.Filter.Salary == nil {
		missing = append(missing, "salary")
	}
	if strings.TrimSpace(r.Hash) == "" {
		missing = append(missing, "hash")
	}
	if len(missing) > 0 {
		return &missingFieldsError{fields: missing}
	}
	return nil
}

type missingFieldsError struct {
	fields []string
}

func (e *missingFieldsError) Error() string {
	return errMissingFilter.Error() + ": missing " + strings.Join(e.fields, ", ")
}

func (e *missingFieldsError) Unwrap() error { return errMissingFilter }

// Application is a submitted response stored for history and dedup.
type Application struct {
	ResumeID      uuid.UUID
	UserID        uuid.UUID
	VacancyID     string
	NegotiationID string
	Letter        string
	Confidence    float64
	SubmittedAt   time.Time
}

// StopReason tells why a run ended.
type StopReason string

const (
	StopCompleted     StopReason = "completed"
	StopNoCandidates  StopReason = "no_candidates"
	StopDisabled      StopReason = "disabled"
	StopQuotaExceeded StopReason = "quota_exceeded"
	StopCancelled     StopReason = "cancelled"
	StopMissingFilter StopReason = "missing_filter"
	StopNoSession     StopReason = "no_session"
	StopRejected      StopReason = "rejected"
)

// Report summarises one run.
type Report struct {
	Fetched    int
	Matched    int
	Candidates int
	Submitted  int
	Failed     int
	StopReason StopReason
}
