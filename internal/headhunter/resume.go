package headhunter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spigell/hh-autoreply/internal/session"
)

type ResumeDetails struct {
	ID    string
	Title string
	// Text is a plain-text rendering of the résumé for LLM prompts.
	Text string
	Raw  map[string]any
}

// FetchResume loads a résumé by its board id (hash).
func (c *Client) FetchResume(ctx context.Context, headers session.Headers, cookies session.Cookies, id string) (*ResumeDetails, session.Cookies, error) {
	if id == "" {
		return nil, nil, errors.New("resume id is required")
	}

	var raw map[string]any
	creds := credentials{headers: headers, cookies: cookies}
	observed, err := c.getJSON(ctx, creds, fmt.Sprintf("%s/resumes/%s", c.APIURL, id), &raw)
	if err != nil {
		return nil, observed, err
	}

	if raw == nil {
		raw = make(map[string]any)
	}

	return &ResumeDetails{
		ID:    valueAsString(raw["id"]),
		Title: valueAsString(raw["title"]),
		Text:  resumeText(raw),
		Raw:   raw,
	}, observed, nil
}

func resumeText(raw map[string]any) string {
	var parts []string
	if title := valueAsString(raw["title"]); title != "" {
		parts = append(parts, title)
	}
	if skills := valueAsString(raw["skills"]); skills != "" {
		parts = append(parts, skills)
	}
	if set, ok := raw["skill_set"].([]any); ok && len(set) > 0 {
		names := make([]string, 0, len(set))
		for _, s := range set {
			names = append(names, valueAsString(s))
		}
		parts = append(parts, "Skills: "+strings.Join(names, ", "))
	}
	if exp, ok := raw["experience"].([]any); ok {
		for _, e := range exp {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			line := strings.TrimSpace(fmt.Sprintf("%s, %s: %s",
				valueAsString(entry["position"]),
				valueAsString(entry["company"]),
				valueAsString(entry["description"]),
			))
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "\n\n")
}

func valueAsString(v any) string {
	if v == nil {
		return ""
	}

	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
