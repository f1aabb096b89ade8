package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/authorizer"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/kvstore"
	"github.com/jrsteele09/go-auth-client/popup"
	"github.com/jrsteele09/go-auth-client/sessions"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/token/jwt"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const defaultHTTPTimeout = 30 * time.Second

// Manager owns the session: the persisted credential record, the broadcast
// current user and the single refresh slot.
//
// States: signed out -> signed in -> (refresh pending) -> signed in | signed out.
type Manager struct {
	store kvstore.Store
	state *sessions.State
	coord *refresh.Coordinator
	flow  *popup.Flow

	baseHTTP   *http.Client
	bootstrap  *api.Client // bypasses the authorizer: login, signup, refresh, provider callback, me
	authorized *api.Client

	loginConfig   oauth2.Config
	refreshConfig oauth2.Config
	clientID      string
	metrics       *authorizer.Metrics
	log           zerolog.Logger

	// mu makes persisting the credential record and broadcasting the user one
	// step; token reads take it shared.
	mu sync.RWMutex
	// generation counts logouts so a refresh that straddles one is discarded
	generation uint64
}

var _ authorizer.Session = (*Manager)(nil)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithHTTPClient sets the client used for the network. Its transport becomes
// the base of the authorizer.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		m.baseHTTP = c
	}
}

// WithPopupFlow enables LoginWithProvider.
func WithPopupFlow(f *popup.Flow) ManagerOption {
	return func(m *Manager) {
		m.flow = f
	}
}

func WithCoordinator(c *refresh.Coordinator) ManagerOption {
	return func(m *Manager) {
		m.coord = c
	}
}

// WithClientID is sent as client_id on token requests.
func WithClientID(clientID string) ManagerOption {
	return func(m *Manager) {
		m.clientID = clientID
	}
}

func WithMetrics(metrics *authorizer.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager wires a Manager against the API at apiURL. Call Restore to pick
// up a session persisted by a previous run.
func NewManager(apiURL string, store kvstore.Store, options ...ManagerOption) (*Manager, error) {
	if apiURL == "" {
		return nil, errors.New("[NewManager] apiURL is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}

	m := &Manager{
		store: store,
		state: sessions.NewState(),
		coord: refresh.NewCoordinator(),
		log:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	if m.baseHTTP == nil {
		m.baseHTTP = &http.Client{Timeout: defaultHTTPTimeout}
	}

	var err error
	if m.bootstrap, err = api.New(apiURL, m.baseHTTP); err != nil {
		return nil, errors.Wrap(err, "[NewManager]")
	}

	base := m.baseHTTP.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	transport, err := authorizer.New(m,
		authorizer.WithBase(base),
		authorizer.WithLogger(m.log),
		authorizer.WithMetrics(m.metrics),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[NewManager]")
	}
	authorizedHTTP := &http.Client{Transport: transport, Timeout: m.baseHTTP.Timeout}
	if m.authorized, err = api.New(apiURL, authorizedHTTP); err != nil {
		return nil, errors.Wrap(err, "[NewManager]")
	}

	m.loginConfig = m.tokenConfig(api.PathLogin)
	m.refreshConfig = m.tokenConfig(api.PathRefresh)
	return m, nil
}

func (m *Manager) tokenConfig(path string) oauth2.Config {
	return oauth2.Config{
		ClientID: m.clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.bootstrap.URL(path),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// oauthContext routes x/oauth2 requests through the manager's base client.
func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.baseHTTP)
}

// Login exchanges email and password for a token pair, loads the profile and
// stores the session. Nothing is persisted unless every step succeeds.
func (m *Manager) Login(ctx context.Context, email, password string) (*users.Snapshot, error) {
	tok, err := m.loginConfig.PasswordCredentialsToken(m.oauthContext(ctx), email, password)
	if err != nil {
		return nil, errors.Wrap(tokenError(err), "[Login]")
	}
	user, err := m.establish(ctx, token.FromOAuth2(tok), nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Login]")
	}
	m.log.Info().Str("user_id", user.ID).Msg("signed in")
	return user, nil
}

// Signup registers the account, then signs in with the same credentials.
func (m *Manager) Signup(ctx context.Context, req api.SignupRequest) (*users.Snapshot, error) {
	if err := m.bootstrap.Signup(ctx, req); err != nil {
		return nil, errors.Wrap(err, "[Signup]")
	}
	return m.Login(ctx, req.Email, req.Password)
}

// LoginWithProvider signs in through an external identity provider.
func (m *Manager) LoginWithProvider(ctx context.Context, provider string) (*users.Snapshot, error) {
	if !SupportedProvider(provider) {
		return nil, errors.Wrapf(apperrors.ErrUnsupportedProvider, "[LoginWithProvider] %q", provider)
	}
	if m.flow == nil {
		return nil, errors.New("[LoginWithProvider] no popup flow configured")
	}

	providerToken, err := m.flow.Await(ctx, m.bootstrap.URL("auth/"+provider), provider)
	if err != nil {
		return nil, errors.Wrap(err, "[LoginWithProvider]")
	}

	pair, err := m.bootstrap.ProviderCallback(ctx, provider, providerToken)
	if err != nil {
		return nil, errors.Wrap(credentialError(err), "[LoginWithProvider] exchanging provider token")
	}
	user, err := m.establish(ctx, pair, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[LoginWithProvider]")
	}
	m.log.Info().Str("user_id", user.ID).Str("provider", provider).Msg("signed in")
	return user, nil
}

// Refresh renews the token pair. See RefreshAccessToken.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err := m.RefreshAccessToken(ctx)
	return err
}

// RefreshAccessToken renews the token pair and returns the new access token.
// Concurrent callers share one network refresh. Without a stored refresh
// token it fails with ErrNoRefreshToken and touches nothing. Any other failure
// signs the session out and is reported as ErrRefreshFailed.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	rt, err := m.RefreshToken(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("reading refresh token")
	}
	if rt == "" {
		return "", apperrors.ErrNoRefreshToken
	}

	// the leader keeps going for its waiters even if its own caller gives up
	return m.coord.Do(ctx, func() (string, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
}

func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	gen := m.generation
	rt, err := m.get(ctx, kvstore.KeyRefreshToken)
	m.mu.RUnlock()
	if err != nil || rt == "" {
		return "", apperrors.ErrNoRefreshToken
	}

	tok, err := m.refreshConfig.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		m.Logout(ctx)
		return "", fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, tokenError(err))
	}

	pair := token.FromOAuth2(tok)
	user, err := m.establish(ctx, pair, &gen)
	if errors.Is(err, apperrors.ErrNotSignedIn) {
		m.log.Debug().Msg("signed out during refresh, discarding new tokens")
		return "", fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}
	if err != nil {
		m.Logout(ctx)
		return "", fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, err)
	}
	m.log.Debug().Str("user_id", user.ID).Msg("tokens refreshed")
	return pair.AccessToken, nil
}

// Logout removes the credential record and signs out. Store errors are logged
// and swallowed; in-memory state is always cleared.
func (m *Manager) Logout(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	if err := m.store.Remove(ctx, kvstore.CredentialKeys...); err != nil {
		m.log.Warn().Err(err).Msg("removing stored credentials")
	}
	m.state.Set(nil)
	m.log.Info().Msg("signed out")
}

// IsAuthenticated reports whether an access token is persisted. Expiry is not
// checked; an expired token is found out by the next 401.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	tok, err := m.AccessToken(ctx)
	return err == nil && tok != ""
}

// CurrentUser returns a copy of the signed in user, nil when signed out.
func (m *Manager) CurrentUser() *users.Snapshot {
	return m.state.Current()
}

// Subscribe streams the current user and every later change.
func (m *Manager) Subscribe() (<-chan *users.Snapshot, func()) {
	return m.state.Subscribe()
}

// UpdateUser sends only the fields set on u and replaces the cached user
// with the server's response. Tokens are left alone.
func (m *Manager) UpdateUser(ctx context.Context, u users.Update) (*users.Snapshot, error) {
	current := m.state.Current()
	if current == nil {
		return nil, apperrors.ErrNotSignedIn
	}
	if u.IsEmpty() {
		return current, nil
	}

	rec, err := m.authorized.UpdateMe(ctx, u)
	if err != nil {
		return nil, errors.Wrap(err, "[UpdateUser]")
	}
	user := users.FromRecord(*rec)
	data, err := json.Marshal(user)
	if err != nil {
		return nil, errors.Wrap(err, "[UpdateUser] encoding user")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// signed out while the request was in flight
	if m.state.Current() == nil {
		return nil, apperrors.ErrNotSignedIn
	}
	if err := m.store.Set(context.WithoutCancel(ctx), kvstore.KeyUserData, string(data)); err != nil {
		return nil, errors.Wrap(err, "[UpdateUser] storing user")
	}
	m.state.Set(user)
	return user.Clone(), nil
}

// Restore loads a previously persisted session. Read errors and partial
// records are logged and leave the manager signed out. It reports whether a
// session was restored.
func (m *Manager) Restore(ctx context.Context) bool {
	values := make(map[string]string, len(kvstore.CredentialKeys))
	for _, k := range kvstore.CredentialKeys {
		v, err := m.store.Get(ctx, k)
		if errors.Is(err, apperrors.ErrNotFound) {
			continue
		}
		if err != nil {
			m.log.Warn().Err(err).Str("key", k).Msg("reading stored session, starting signed out")
			m.state.Set(nil)
			return false
		}
		values[k] = v
	}

	if len(values) == 0 {
		m.state.Set(nil)
		return false
	}

	var user users.Snapshot
	complete := values[kvstore.KeyAuthToken] != "" && values[kvstore.KeyRefreshToken] != "" && values[kvstore.KeyUserData] != ""
	if complete {
		if err := json.Unmarshal([]byte(values[kvstore.KeyUserData]), &user); err != nil || user.ID == "" {
			complete = false
		}
	}
	if !complete {
		m.log.Warn().Int("keys", len(values)).Msg("discarding partial stored session")
		m.Logout(ctx)
		return false
	}

	m.state.Set(&user)
	m.log.Debug().Str("user_id", user.ID).Msg("session restored")
	return true
}

// AccessToken returns the persisted access token, "" when signed out.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(ctx, kvstore.KeyAuthToken)
}

// RefreshToken returns the persisted refresh token, "" when signed out.
func (m *Manager) RefreshToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(ctx, kvstore.KeyRefreshToken)
}

// TokenExpiry reads the exp claim of the access token without verifying it.
func (m *Manager) TokenExpiry(ctx context.Context) (time.Time, bool) {
	tok, err := m.AccessToken(ctx)
	if err != nil || tok == "" {
		return time.Time{}, false
	}
	return jwt.Expiry(tok)
}

// API returns the authorized REST client.
func (m *Manager) API() *api.Client {
	return m.authorized
}

// HTTPClient returns an *http.Client whose requests go through the authorizer.
func (m *Manager) HTTPClient() *http.Client {
	return m.authorized.HTTPClient()
}

func (m *Manager) get(ctx context.Context, key string) (string, error) {
	v, err := m.store.Get(ctx, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// establish loads the profile with the new access token, then persists the
// pair and the user and broadcasts the user in one step. With a non-nil gen
// the result is dropped with ErrNotSignedIn if a logout happened since gen
// was read.
func (m *Manager) establish(ctx context.Context, pair token.Pair, gen *uint64) (*users.Snapshot, error) {
	if !pair.Valid() {
		return nil, errors.Wrap(apperrors.ErrNetwork, "incomplete token pair")
	}

	rec, err := m.bootstrap.Me(ctx, pair.AccessToken)
	if err != nil {
		return nil, errors.Wrap(credentialError(err), "fetching profile")
	}
	user := users.FromRecord(*rec)
	data, err := json.Marshal(user)
	if err != nil {
		return nil, errors.Wrap(err, "encoding user")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != nil && *gen != m.generation {
		return nil, apperrors.ErrNotSignedIn
	}
	if err := m.store.SetMany(context.WithoutCancel(ctx), map[string]string{
		kvstore.KeyAuthToken:    pair.AccessToken,
		kvstore.KeyRefreshToken: pair.RefreshToken,
		kvstore.KeyUserData:     string(data),
	}); err != nil {
		return nil, errors.Wrap(err, "storing credentials")
	}
	m.state.Set(user)
	return user.Clone(), nil
}

// tokenError classifies a failed token endpoint call: a 4xx answer means the
// credentials were refused, anything else is a network failure.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidCredentials, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", apperrors.ErrNetwork, err)
}

// credentialError classifies a failed bootstrap API call the same way.
func credentialError(err error) error {
	if api.IsStatus(err, http.StatusUnauthorized) || api.IsStatus(err, http.StatusForbidden) || api.IsStatus(err, http.StatusBadRequest) {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidCredentials, err)
	}
	if errors.Is(err, apperrors.ErrNetwork) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", apperrors.ErrNetwork, err)
}
