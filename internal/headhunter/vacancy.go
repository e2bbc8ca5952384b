package headhunter

import (
	"fmt"
	"strings"
)

const (
	VacancyIDField         = "ID"
	VacancyEmployerIDField = "EmployerID"
)

type Named struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

type Salary struct {
	From     int    `json:"from,omitempty"`
	To       int    `json:"to,omitempty"`
	Currency string `json:"currency,omitempty"`
	Gross    bool   `json:"gross,omitempty"`
}

func (s *Salary) String() string {
	if s == nil {
		return ""
	}
	switch {
	case s.From > 0 && s.To > 0:
		return fmt.Sprintf("%d-%d %s", s.From, s.To, s.Currency)
	case s.From > 0:
		return fmt.Sprintf("from %d %s", s.From, s.Currency)
	case s.To > 0:
		return fmt.Sprintf("up to %d %s", s.To, s.Currency)
	default:
		return ""
	}
}

type Employer struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	AlternateURL string `json:"alternate_url,omitempty"`
	Trusted      bool   `json:"trusted,omitempty"`
}

type Snippet struct {
	Requirement    string `json:"requirement,omitempty"`
	Responsibility string `json:"responsibility,omitempty"`
}

type Vacancy struct {
	ID                     string   `json:"id,omitempty"`
	Name                   string   `json:"name,omitempty"`
	Area                   Named    `json:"area,omitempty"`
	HasTest                bool     `json:"has_test,omitempty"`
	ResponseLetterRequired bool     `json:"response_letter_required,omitempty"`
	Salary                 *Salary  `json:"salary,omitempty"`
	Experience             Named    `json:"experience,omitempty"`
	Schedule               Named    `json:"schedule,omitempty"`
	Employment             Named    `json:"employment,omitempty"`
	Employer               Employer `json:"employer,omitempty"`
	AlternateURL           string   `json:"alternate_url,omitempty"`
	Archived               bool     `json:"archived,omitempty"`
	Snippet                Snippet  `json:"snippet,omitempty"`
	ProfessionalRoles      []Named  `json:"professional_roles,omitempty"`
	PublishedAt            string   `json:"published_at,omitempty"`
}

func (va *Vacancy) GetStringField(name string) string {
	switch name {
	case VacancyIDField:
		return va.ID
	case VacancyEmployerIDField:
		return va.Employer.ID

	default:
		return ""
	}
}

// Summary is the compact plain-text form of a vacancy used in LLM prompts.
func (va *Vacancy) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s", va.Name, va.Employer.Name)
	if va.Area.Name != "" {
		fmt.Fprintf(&b, " (%s)", va.Area.Name)
	}
	if s := va.Salary.String(); s != "" {
		fmt.Fprintf(&b, "\nSalary: %s", s)
	}
	if va.Experience.Name != "" {
		fmt.Fprintf(&b, "\nExperience: %s", va.Experience.Name)
	}
	if va.Schedule.Name != "" {
		fmt.Fprintf(&b, "\nSchedule: %s", va.Schedule.Name)
	}
	if r := stripHighlight(va.Snippet.Requirement); r != "" {
		fmt.Fprintf(&b, "\nRequirements: %s", r)
	}
	if r := stripHighlight(va.Snippet.Responsibility); r != "" {
		fmt.Fprintf(&b, "\nResponsibilities: %s", r)
	}
	return b.String()
}

// The search API wraps matched words in <highlighttext> tags.
var highlightReplacer = strings.NewReplacer("<highlighttext>", "", "</highlighttext>", "")

func stripHighlight(s string) string {
	return strings.TrimSpace(highlightReplacer.Replace(s))
}

type Vacancies []*Vacancy

func (v Vacancies) Len() int {
	return len(v)
}

func (v Vacancies) IDs() []string {
	ids := make([]string, 0, len(v))
	for _, vacancy := range v {
		ids = append(ids, vacancy.ID)
	}
	return ids
}

// ReportByEmployer groups vacancies by "Employer (id)".
func (v Vacancies) ReportByEmployer() map[string][]map[string]string {
	report := make(map[string][]map[string]string)
	for _, vacancy := range v {
		key := fmt.Sprintf("%s (%s)", vacancy.Employer.Name, vacancy.Employer.ID)
		report[key] = append(report[key], map[string]string{
			"name":                 vacancy.Name,
			"url":                  vacancy.AlternateURL,
			"area":                 vacancy.Area.Name,
			"salary":               vacancy.Salary.String(),
			"brief requirement":    stripHighlight(vacancy.Snippet.Requirement),
			"brief responsibility": stripHighlight(vacancy.Snippet.Responsibility),
		})
	}
	return report
}
