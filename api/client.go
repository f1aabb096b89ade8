// Package api is a thin JSON client for the backend REST endpoints. It does no
// authorization of its own; hand it an *http.Client whose transport does.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/pkg/errors"
)

const (
	contentTypeJSON = "application/json"
	maxErrorBody    = 4 << 10
)

// Endpoint paths, relative to the API base URL.
const (
	PathLogin            = "auth/login"
	PathRefresh          = "auth/refresh"
	PathSignup           = "auth/signup"
	PathMe               = "auth/me"
	PathProviderCallback = "auth/%s/callback"
	PathUserMe           = "user/me"
	PathInterests        = "interest/"
	PathInterest         = "interest/%s"
)

// StatusError is a non-2xx response. 5xx responses unwrap to ErrNetwork.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string

	// Code and Description are filled from an {"error", "error_description"}
	// or {"detail"} body when the server sent one.
	Code        string
	Description string
}

func (e *StatusError) Error() string {
	if e.Code != "" || e.Description != "" {
		return fmt.Sprintf("%s %s: status %d: %s %s", e.Method, e.Path, e.StatusCode, e.Code, e.Description)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// errorBody covers the OAuth style error response and the {"detail"} one.
type errorBody struct {
	Error       string          `json:"error"`
	Description string          `json:"error_description"`
	Detail      json.RawMessage `json:"detail"`
}

func newStatusError(method, path string, status int, body []byte) *StatusError {
	se := &StatusError{Method: method, Path: path, StatusCode: status, Body: strings.TrimSpace(string(body))}
	var eb errorBody
	if json.Unmarshal(body, &eb) != nil {
		return se
	}
	se.Code, se.Description = eb.Error, eb.Description
	// detail is a string or a list of validation errors
	var detail string
	if se.Description == "" && json.Unmarshal(eb.Detail, &detail) == nil {
		se.Description = detail
	}
	return se
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode >= http.StatusInternalServerError {
		return apperrors.ErrNetwork
	}
	return nil
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "[api New] invalid base URL")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: u, http: httpClient}, nil
}

// URL resolves an endpoint path against the base URL.
func (c *Client) URL(path string) string {
	return c.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

// HTTPClient returns the underlying client.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Do sends in as JSON (when non-nil) and decodes the response into out (when non-nil).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	return c.do(ctx, method, path, "", in, out)
}

// do is Do with an optional explicit bearer token, which takes the place of
// whatever the transport would attach.
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "[api %s %s] encode body", method, path)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), body)
	if err != nil {
		return errors.Wrapf(err, "[api %s %s] build request", method, path)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if in != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newStatusError(method, path, resp.StatusCode, b)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "[api %s %s] decode response", method, path)
	}
	return nil
}

// transportError tags connection level failures as ErrNetwork. Errors the
// transport raised on purpose (refresh failure, cancellation) keep their identity.
func transportError(method, path string, err error) error {
	if errors.Is(err, apperrors.ErrRefreshFailed) || errors.Is(err, context.Canceled) {
		return errors.Wrapf(err, "[api %s %s]", method, path)
	}
	return fmt.Errorf("[api %s %s] %w: %w", method, path, apperrors.ErrNetwork, err)
}
