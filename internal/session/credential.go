package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Headers are request headers replayed on every call to the job board.
type Headers map[string]string

// Cookies are the board's session cookies, keyed by cookie name.
type Cookies map[string]string

// Credential is the per-user session state for the job board.
type Credential struct {
	UserID    uuid.UUID
	Headers   Headers
	Cookies   Cookies
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can use it without holding a lock.
func (c Credential) Clone() Credential {
	c.Headers = c.Headers.Clone()
	c.Cookies = c.Cookies.Clone()
	return c
}

// Merge returns the union of c and observed. Values from observed win.
// Empty observed values are kept: the board clears cookies that way.
func (c Cookies) Merge(observed Cookies) Cookies {
	out := make(Cookies, len(c)+len(observed))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range observed {
		out[k] = v
	}
	return out
}

func (c Cookies) Clone() Cookies {
	if c == nil {
		return Cookies{}
	}
	return c.Merge(nil)
}

// Apply adds the cookies to req.
func (c Cookies) Apply(req *http.Request) {
	for name, value := range c {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
}

// FromHTTP collects cookies set by a response.
func FromHTTP(cookies []*http.Cookie) Cookies {
	out := make(Cookies, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		out[c.Name] = c.Value
	}
	return out
}

func (h Headers) Merge(observed Headers) Headers {
	out := make(Headers, len(h)+len(observed))
	for k, v := range h {
		out[k] = v
	}
	for k, v := range observed {
		out[k] = v
	}
	return out
}

func (h Headers) Clone() Headers {
	if h == nil {
		return Headers{}
	}
	return h.Merge(nil)
}

// Apply sets the headers on req, overriding existing values.
func (h Headers) Apply(req *http.Request) {
	for k, v := range h {
		req.Header.Set(k, v)
	}
}
