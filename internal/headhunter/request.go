package headhunter

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/hh-autoreply/internal/session"
	"github.com/spigell/hh-autoreply/internal/utils"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
	// Error bodies are kept short in errors and logs.
	maxErrorBody = 512
)

type itemResponse struct {
	Items   []map[string]any `json:"items"`
	Found   int              `json:"found"`
	Pages   int              `json:"pages"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
}

// getItems makes a GET request for a single page of a list endpoint.
func (c *Client) getItems(ctx context.Context, creds credentials, url string, q url.Values) (*itemResponse, session.Cookies, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, err
	}

	c.setHeaders(req, creds)
	// Additional headers. For GET requests only
	req.Header.Set("Content-Type", contentType)
	req.URL.RawQuery = q.Encode()

	resp, err := c.request(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	observed := session.FromHTTP(resp.Cookies())

	body, err := readBody(resp)
	if err != nil {
		return nil, observed, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, observed, statusError(resp, body)
	}

	var response itemResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, observed, fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}

	c.logger.Debug("got response from HH.ru",
		zap.String("path", req.URL.Path),
		zap.Int("page", response.Page),
		zap.Int("pages", response.Pages),
		zap.Int("found", response.Found),
	)

	return &response, observed, nil
}

// getJSON makes a GET request and decodes a single object into target.
func (c *Client) getJSON(ctx context.Context, creds credentials, url string, target any) (session.Cookies, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	c.setHeaders(req, creds)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.request(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	observed := session.FromHTTP(resp.Cookies())

	data, err := readBody(resp)
	if err != nil {
		return observed, err
	}
	if resp.StatusCode != http.StatusOK {
		return observed, statusError(resp, data)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return observed, fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return observed, nil
}

// postFormData posts a multipart form. Both 200 and 201 count as success.
func (c *Client) postFormData(ctx context.Context, creds credentials, url string, data map[string]string) (*http.Response, session.Cookies, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	for key, val := range data {
		field, err := w.CreateFormField(key)
		if err != nil {
			return nil, nil, err
		}

		if _, err := io.Copy(field, strings.NewReader(val)); err != nil {
			return nil, nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &b)
	if err != nil {
		return nil, nil, err
	}

	c.setHeaders(req, creds)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.request(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	observed := session.FromHTTP(resp.Cookies())

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := readBody(resp)
		return nil, observed, statusError(resp, body)
	}

	return resp, observed, nil
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}

	return resp, nil
}

// credentials is the session material replayed on a request.
type credentials struct {
	headers session.Headers
	cookies session.Cookies
}

// setHeaders applies the client defaults first so that stored session
// headers can override them.
func (c *Client) setHeaders(req *http.Request, creds credentials) {
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept-Encoding", contentEncoding)
	creds.headers.Apply(req)
	creds.cookies.Apply(req)
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

func statusError(resp *http.Response, body []byte) *StatusError {
	return &StatusError{
		Code:   resp.StatusCode,
		Status: resp.Status,
		Body:   utils.TruncateForLog(string(body), maxErrorBody),
	}
}
