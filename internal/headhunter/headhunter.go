// Package headhunter is a thin client for the hh.ru applicant API. Every call
// takes the user's session headers and cookies and returns the cookies the
// board set during the call, so callers can merge them back.
package headhunter

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/logger"
)

const (
	DefaultAPIURL    = "https://api.hh.ru"
	DefaultUserAgent = "spigell/hh-autoreply (spigelly@gmail.com)"
	DefaultTimeout   = 15 * time.Second
	// Max value for search per page.
	MaxPerPage = 100
)

type Client struct {
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

type Option func(*Client)

func WithAPIURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.APIURL = url
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.UserAgent = ua
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTPClient.Timeout = d
		}
	}
}

func New(log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		APIURL: DefaultAPIURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:    logger.OrNop(log).Named("headhunter"),
		UserAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is returned for any non-success HTTP status.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bad status: %s", e.Status)
	}
	return fmt.Sprintf("bad status: %s: %s", e.Status, e.Body)
}

// Temporary reports whether retrying the same call later may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}
