// Package authorizer provides the http.RoundTripper every API call goes
// through. It attaches the current bearer token and recovers from 401
// responses by renewing the token once and re-sending the request.
package authorizer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultBypassPaths are the bootstrap endpoints: no token is attached and a
// 401 from them is final.
var DefaultBypassPaths = []string{"auth/login", "auth/signup", "auth/refresh"}

// Session is what the transport needs from the session manager.
type Session interface {
	// AccessToken returns the persisted access token, "" when there is none.
	AccessToken(ctx context.Context) (string, error)
	// RefreshToken returns the persisted refresh token, "" when there is none.
	RefreshToken(ctx context.Context) (string, error)
	// RefreshAccessToken renews the token pair, at most one renewal at a time,
	// and returns the new access token.
	RefreshAccessToken(ctx context.Context) (string, error)
	Logout(ctx context.Context)
}

type Transport struct {
	session Session
	base    http.RoundTripper
	bypass  []string
	metrics *Metrics
	log     zerolog.Logger
}

var _ http.RoundTripper = (*Transport)(nil)

type Option func(*Transport)

// WithBase sets the transport requests are dispatched on (default http.DefaultTransport).
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		t.base = base
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(t *Transport) {
		t.log = log
	}
}

func WithMetrics(m *Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// WithBypassPaths replaces the bootstrap endpoint list.
func WithBypassPaths(paths ...string) Option {
	return func(t *Transport) {
		t.bypass = paths
	}
}

func New(session Session, options ...Option) (*Transport, error) {
	if session == nil {
		return nil, errors.New("[authorizer New] session is required")
	}
	t := &Transport{
		session: session,
		base:    http.DefaultTransport,
		bypass:  DefaultBypassPaths,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t, nil
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.bypasses(req.URL.Path) {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	used := t.accessToken(ctx)
	resp, err := t.base.RoundTrip(withBearer(req, used))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	t.metrics.unauthorized()

	if t.refreshToken(ctx) == "" {
		return resp, nil
	}
	drain(resp)

	renewed, err := t.renew(ctx, used)
	if err != nil && ctx.Err() != nil && !errors.Is(err, apperrors.ErrRefreshFailed) {
		// the caller gave up while queued; the session is not at fault
		return nil, err
	}
	t.metrics.refreshed(err)
	if err != nil {
		t.log.Warn().Err(err).Str("path", req.URL.Path).Msg("token renewal failed, signing out")
		t.session.Logout(ctx)
		return nil, refreshFailed(err)
	}

	retry, err := rewind(req)
	if err != nil {
		return nil, err
	}
	t.metrics.retried()
	t.log.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("retrying with renewed token")

	// a second 401 is returned as is
	return t.base.RoundTrip(withBearer(retry, renewed))
}

// renew returns a usable access token. When the persisted token already
// differs from the one the request carried, a renewal finished while the
// request was in flight and its token is reused instead of starting another.
func (t *Transport) renew(ctx context.Context, used string) (string, error) {
	if current := t.accessToken(ctx); current != "" && current != used {
		return current, nil
	}
	return t.session.RefreshAccessToken(ctx)
}

func (t *Transport) accessToken(ctx context.Context) string {
	tok, err := t.session.AccessToken(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("reading access token")
		return ""
	}
	return tok
}

func (t *Transport) refreshToken(ctx context.Context) string {
	tok, err := t.session.RefreshToken(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("reading refresh token")
		return ""
	}
	return tok
}

func (t *Transport) bypasses(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, p := range t.bypass {
		p = strings.Trim(p, "/")
		if path == p || strings.HasSuffix(path, "/"+p) {
			return true
		}
	}
	return false
}

func refreshFailed(err error) error {
	if errors.Is(err, apperrors.ErrRefreshFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
}

// replayable clones req and makes sure its body can be produced again for a retry.
func replayable(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if r.Body == nil || r.Body == http.NoBody || r.GetBody != nil {
		return r, nil
	}

	b, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, errors.Wrap(err, "[authorizer] buffering request body")
	}
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	r.Body, _ = r.GetBody()
	return r, nil
}

// rewind clones req with a fresh body.
func rewind(req *http.Request) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.GetBody == nil {
		return r, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, errors.Wrap(err, "[authorizer] rewinding request body")
	}
	r.Body = body
	return r, nil
}

func withBearer(req *http.Request, token string) *http.Request {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
