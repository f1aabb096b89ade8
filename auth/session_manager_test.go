package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/api"
	"github.com/jrsteele09/go-auth-client/auth"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/kvstore"
	"github.com/jrsteele09/go-auth-client/kvstore/memstore"
	"github.com/jrsteele09/go-auth-client/popup"
	"github.com/jrsteele09/go-auth-client/token/refresh"
	"github.com/jrsteele09/go-auth-client/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "secret"
)

// backend is a fake of the API: it issues T<n>/R<n> pairs and only the
// latest access token is accepted.
type backend struct {
	*httptest.Server

	mu            sync.Mutex
	n             int
	access        string
	refreshToken  string
	user          users.Record
	patches       []map[string]any
	bearers       []string
	loginStatus   int
	meStatus      int
	refreshStatus int
	refreshGate   chan struct{}

	requests     atomic.Int32
	refreshCalls atomic.Int32
}

func newBackend(t *testing.T) *backend {
	b := &backend{
		user: users.Record{
			ID:       "u1",
			Username: "alice",
			Email:    testEmail,
			Role:     users.RoleBasic,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", b.login)
	mux.HandleFunc("POST /api/v1/auth/refresh", b.refresh)
	mux.HandleFunc("POST /api/v1/auth/signup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /api/v1/auth/github/callback", b.providerCallback)
	mux.HandleFunc("GET /api/v1/auth/me", b.authorized(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status := b.meStatus
		b.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		b.writeUser(w)
	}))
	mux.HandleFunc("PATCH /api/v1/user/me", b.authorized(b.patchMe))
	mux.HandleFunc("GET /api/v1/interest/", b.authorized(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []api.Interest{{ID: "i1", Name: "chess"}})
	}))

	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) apiURL() string {
	return b.URL + "/api/v1/"
}

// issue rotates the pair. Callers hold mu.
func (b *backend) issue() map[string]string {
	b.n++
	b.access = fmt.Sprintf("T%d", b.n)
	b.refreshToken = fmt.Sprintf("R%d", b.n)
	return map[string]string{
		"access_token":  b.access,
		"refresh_token": b.refreshToken,
		"token_type":    "bearer",
	}
}

// expire invalidates the current access token, the refresh token stays good.
func (b *backend) expire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access = ""
}

func (b *backend) login(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loginStatus != 0 {
		w.WriteHeader(b.loginStatus)
		return
	}
	if err := r.ParseForm(); err != nil ||
		r.PostForm.Get("grant_type") != "password" ||
		r.PostForm.Get("username") != testEmail ||
		r.PostForm.Get("password") != testPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, http.StatusOK, b.issue())
}

// setRefresh makes the refresh endpoint answer with status (0 for normal
// rotation) and, when gate is non-nil, hold every call until it is closed.
func (b *backend) setRefresh(status int, gate chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStatus = status
	b.refreshGate = gate
}

func (b *backend) refresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)
	b.mu.Lock()
	gate := b.refreshGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refreshStatus != 0 {
		writeJSON(w, b.refreshStatus, map[string]string{"error": "invalid_grant"})
		return
	}
	if err := r.ParseForm(); err != nil ||
		r.PostForm.Get("grant_type") != "refresh_token" ||
		r.PostForm.Get("refresh_token") != b.refreshToken {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, http.StatusOK, b.issue())
}

func (b *backend) providerCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token != "gh-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, b.issue())
}

func (b *backend) patchMe(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.patches = append(b.patches, patch)
	if v, ok := patch["first_name"].(string); ok {
		b.user.FirstName = utils.Ptr(v)
	}
	b.mu.Unlock()
	b.writeUser(w)
}

func (b *backend) writeUser(w http.ResponseWriter) {
	b.mu.Lock()
	u := b.user
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, u)
}

func (b *backend) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("Authorization")
		b.mu.Lock()
		b.bearers = append(b.bearers, got)
		ok := b.access != "" && got == "Bearer "+b.access
		b.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (b *backend) lastBearer() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bearers) == 0 {
		return ""
	}
	return b.bearers[len(b.bearers)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newManager(t *testing.T, b *backend, store kvstore.Store, options ...auth.ManagerOption) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(b.apiURL(), store, options...)
	require.NoError(t, err)
	return m
}

func login(t *testing.T, m *auth.Manager) *users.Snapshot {
	t.Helper()
	u, err := m.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	return u
}

func stored(t *testing.T, store kvstore.Store, key string) string {
	t.Helper()
	v, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	return v
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	_, err := auth.NewManager("", memstore.New())
	require.Error(t, err)
	_, err = auth.NewManager("http://localhost/api/v1/", nil)
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	m := newManager(t, b, store)

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()
	require.Nil(t, <-updates)

	u := login(t, m)
	require.Equal(t, "u1", u.ID)
	require.Equal(t, users.RoleBasic, u.Role)

	require.Equal(t, "T1", stored(t, store, kvstore.KeyAuthToken))
	require.Equal(t, "R1", stored(t, store, kvstore.KeyRefreshToken))
	require.Contains(t, stored(t, store, kvstore.KeyUserData), `"id":"u1"`)
	require.True(t, m.IsAuthenticated(context.Background()))
	require.Equal(t, "u1", m.CurrentUser().ID)

	select {
	case got := <-updates:
		require.NotNil(t, got)
		require.Equal(t, "u1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("login was not broadcast")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	m := newManager(t, b, store)

	_, err := m.Login(context.Background(), testEmail, "wrong")
	require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	require.Nil(t, m.CurrentUser())
	require.False(t, m.IsAuthenticated(context.Background()))
	require.Zero(t, store.Len())
}

func TestLogin_ServerError(t *testing.T) {
	b := newBackend(t)
	b.mu.Lock()
	b.loginStatus = http.StatusBadGateway
	b.mu.Unlock()
	m := newManager(t, b, memstore.New())

	_, err := m.Login(context.Background(), testEmail, testPassword)
	require.ErrorIs(t, err, apperrors.ErrNetwork)
	require.NotErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestLogin_Unreachable(t *testing.T) {
	b := newBackend(t)
	apiURL := b.apiURL()
	b.Close()

	m, err := auth.NewManager(apiURL, memstore.New())
	require.NoError(t, err)
	_, err = m.Login(context.Background(), testEmail, testPassword)
	require.ErrorIs(t, err, apperrors.ErrNetwork)
	require.Nil(t, m.CurrentUser())
}

func TestLogin_ProfileFailureStoresNothing(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"profile refused", http.StatusUnauthorized, apperrors.ErrInvalidCredentials},
		{"profile server error", http.StatusInternalServerError, apperrors.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t)
			b.mu.Lock()
			b.meStatus = tt.status
			b.mu.Unlock()
			store := memstore.New()
			m := newManager(t, b, store)

			_, err := m.Login(context.Background(), testEmail, testPassword)
			require.ErrorIs(t, err, tt.want)
			require.Zero(t, store.Len())
			require.Nil(t, m.CurrentUser())
			require.False(t, m.IsAuthenticated(context.Background()))
		})
	}
}

func TestSignup(t *testing.T) {
	b := newBackend(t)
	m := newManager(t, b, memstore.New())

	u, err := m.Signup(context.Background(), api.SignupRequest{
		Email:    testEmail,
		Username: "alice",
		Password: testPassword,
	})
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	require.True(t, m.IsAuthenticated(context.Background()))
}

func TestAuthorizedRequest_RefreshesOn401(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	m := newManager(t, b, store)
	login(t, m)

	b.expire()
	interests, err := m.API().Interests(context.Background())
	require.NoError(t, err)
	require.Len(t, interests, 1)

	require.EqualValues(t, 1, b.refreshCalls.Load())
	require.Equal(t, "Bearer T2", b.lastBearer())
	require.Equal(t, "T2", stored(t, store, kvstore.KeyAuthToken))
	require.Equal(t, "R2", stored(t, store, kvstore.KeyRefreshToken))
	require.Equal(t, "u1", m.CurrentUser().ID)
}

func TestAuthorizedRequest_RefreshRejectedLogsOut(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	m := newManager(t, b, store)
	login(t, m)

	b.expire()
	b.setRefresh(http.StatusUnauthorized, nil)

	_, err := m.API().Interests(context.Background())
	require.ErrorIs(t, err, apperrors.ErrRefreshFailed)

	for _, k := range kvstore.CredentialKeys {
		_, err := store.Get(context.Background(), k)
		require.ErrorIs(t, err, apperrors.ErrNotFound, k)
	}
	require.Nil(t, m.CurrentUser())
	require.False(t, m.IsAuthenticated(context.Background()))
}

func TestAuthorizedRequest_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	for _, fail := range []bool{false, true} {
		t.Run(fmt.Sprintf("refresh fails=%v", fail), func(t *testing.T) {
			b := newBackend(t)
			coord := refresh.NewCoordinator()
			m := newManager(t, b, memstore.New(), auth.WithCoordinator(coord))
			login(t, m)

			b.expire()
			gate := make(chan struct{})
			status := 0
			if fail {
				status = http.StatusUnauthorized
			}
			b.setRefresh(status, gate)

			const n = 10
			errs := make([]error, n)
			var g errgroup.Group
			for i := 0; i < n; i++ {
				g.Go(func() error {
					_, errs[i] = m.API().Interests(context.Background())
					return nil
				})
			}

			require.Eventually(t, func() bool {
				return coord.InFlight() && coord.Waiting() == n-1
			}, 5*time.Second, 5*time.Millisecond)
			close(gate)
			require.NoError(t, g.Wait())

			require.EqualValues(t, 1, b.refreshCalls.Load())
			for _, err := range errs {
				if fail {
					require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
				} else {
					require.NoError(t, err)
				}
			}
			if fail {
				require.Nil(t, m.CurrentUser())
			} else {
				require.NotNil(t, m.CurrentUser())
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	m := newManager(t, b, store)
	login(t, m)

	tok, err := m.RefreshAccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "T2", tok)
	require.Equal(t, "R2", stored(t, store, kvstore.KeyRefreshToken))
	require.Equal(t, "u1", m.CurrentUser().ID)
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	b := newBackend(t)
	m := newManager(t, b, memstore.New())

	err := m.Refresh(context.Background())
	require.ErrorIs(t, err, apperrors.ErrNoRefreshToken)
	require.Zero(t, b.requests.Load())
}

func TestRefresh_CallerCancelledStillCompletes(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	m := newManager(t, b, store)
	login(t, m)

	gate := make(chan struct{})
	b.setRefresh(0, gate)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Refresh(ctx)
	}()

	require.Eventually(t, func() bool { return b.refreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(gate)
	require.NoError(t, <-done)
	require.Equal(t, "T2", stored(t, store, kvstore.KeyAuthToken))
}

func TestRefresh_LogoutWhileInFlightStaysSignedOut(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	m := newManager(t, b, store)
	login(t, m)

	gate := make(chan struct{})
	b.setRefresh(0, gate)
	done := make(chan error, 1)
	go func() {
		done <- m.Refresh(context.Background())
	}()

	require.Eventually(t, func() bool { return b.refreshCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	m.Logout(context.Background())
	close(gate)

	require.ErrorIs(t, <-done, apperrors.ErrRefreshFailed)
	require.Nil(t, m.CurrentUser())
	require.False(t, m.IsAuthenticated(context.Background()))
	_, err := store.Get(context.Background(), kvstore.KeyAuthToken)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateUser(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	m := newManager(t, b, store)
	login(t, m)

	u, err := m.UpdateUser(context.Background(), users.Update{FirstName: utils.Ptr("Ada")})
	require.NoError(t, err)
	require.Equal(t, "Ada", utils.Value(u.FirstName))

	b.mu.Lock()
	require.Equal(t, []map[string]any{{"first_name": "Ada"}}, b.patches)
	b.mu.Unlock()
	require.Equal(t, "Ada", utils.Value(m.CurrentUser().FirstName))
	require.Contains(t, stored(t, store, kvstore.KeyUserData), `"firstName":"Ada"`)
	require.Equal(t, "T1", stored(t, store, kvstore.KeyAuthToken))
}

func TestUpdateUser_NotSignedIn(t *testing.T) {
	b := newBackend(t)
	m := newManager(t, b, memstore.New())

	_, err := m.UpdateUser(context.Background(), users.Update{FirstName: utils.Ptr("Ada")})
	require.ErrorIs(t, err, apperrors.ErrNotSignedIn)
	require.Zero(t, b.requests.Load())
}

func TestLogout(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	m := newManager(t, b, store)
	login(t, m)

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()
	require.Equal(t, "u1", (<-updates).ID)

	m.Logout(context.Background())
	require.Nil(t, m.CurrentUser())
	require.False(t, m.IsAuthenticated(context.Background()))
	require.Zero(t, store.Len())
	require.Nil(t, <-updates)

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	require.Empty(t, tok)
}

// failingStore refuses removals.
type failingStore struct {
	kvstore.Store
}

func (failingStore) Remove(context.Context, ...string) error {
	return errors.New("disk on fire")
}

func TestLogout_StoreFailureStillSignsOut(t *testing.T) {
	b := newBackend(t)
	m := newManager(t, b, failingStore{Store: memstore.New()})
	login(t, m)

	m.Logout(context.Background())
	require.Nil(t, m.CurrentUser())
}

// gatedStore holds Remove until release is closed.
type gatedStore struct {
	kvstore.Store
	removing chan struct{}
	release  chan struct{}
}

func (s *gatedStore) Remove(ctx context.Context, keys ...string) error {
	close(s.removing)
	<-s.release
	return s.Store.Remove(ctx, keys...)
}

func TestAccessToken_WaitsForLogoutToFinish(t *testing.T) {
	b := newBackend(t)
	store := &gatedStore{Store: memstore.New(), removing: make(chan struct{}), release: make(chan struct{})}
	m := newManager(t, b, store)
	login(t, m)

	go m.Logout(context.Background())
	<-store.removing

	got := make(chan string, 1)
	go func() {
		tok, _ := m.AccessToken(context.Background())
		got <- tok
	}()
	select {
	case tok := <-got:
		t.Fatalf("read %q while logout was half done", tok)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.Empty(t, <-got)
	require.Nil(t, m.CurrentUser())
}

// unreadableStore fails every read.
type unreadableStore struct {
	kvstore.Store
}

func (unreadableStore) Get(context.Context, string) (string, error) {
	return "", errors.New("disk unreadable")
}

func TestRestore_ReadErrorStartsSignedOut(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	login(t, newManager(t, b, store))

	m := newManager(t, b, unreadableStore{Store: store})
	require.False(t, m.Restore(context.Background()))
	require.Nil(t, m.CurrentUser())
	require.False(t, m.IsAuthenticated(context.Background()))
	require.Equal(t, "T1", stored(t, store, kvstore.KeyAuthToken), "record left for the next start")
}

type fakeWindow struct {
	messages chan popup.Message
	closed   atomic.Bool
}

func (w *fakeWindow) Messages() <-chan popup.Message { return w.messages }
func (w *fakeWindow) Closed() bool                   { return w.closed.Load() }
func (w *fakeWindow) Close() error {
	w.closed.Store(true)
	return nil
}

func TestLoginWithProvider(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()

	var opened string
	w := &fakeWindow{messages: make(chan popup.Message, 2)}
	w.messages <- popup.Message{Type: popup.MessageTypeSuccess, Provider: auth.ProviderGoogle, Token: "other"}
	w.messages <- popup.Message{Type: popup.MessageTypeSuccess, Provider: auth.ProviderGitHub, Token: "gh-token"}
	flow := popup.NewFlow(popup.OpenerFunc(func(_ context.Context, authURL string) (popup.Window, error) {
		opened = authURL
		return w, nil
	}), popup.WithPollInterval(10*time.Millisecond))

	m := newManager(t, b, store, auth.WithPopupFlow(flow))
	u, err := m.LoginWithProvider(context.Background(), auth.ProviderGitHub)
	require.NoError(t, err)
	require.Equal(t, "u1", u.ID)
	require.True(t, strings.HasSuffix(opened, "/api/v1/auth/github"), opened)
	require.True(t, w.Closed())
	require.Equal(t, "T1", stored(t, store, kvstore.KeyAuthToken))
}

func TestLoginWithProvider_Errors(t *testing.T) {
	b := newBackend(t)

	m := newManager(t, b, memstore.New())
	_, err := m.LoginWithProvider(context.Background(), "myspace")
	require.ErrorIs(t, err, apperrors.ErrUnsupportedProvider)

	w := &fakeWindow{messages: make(chan popup.Message)}
	w.closed.Store(true)
	flow := popup.NewFlow(popup.OpenerFunc(func(context.Context, string) (popup.Window, error) {
		return w, nil
	}), popup.WithPollInterval(10*time.Millisecond))
	m = newManager(t, b, memstore.New(), auth.WithPopupFlow(flow))
	_, err = m.LoginWithProvider(context.Background(), auth.ProviderGitHub)
	require.ErrorIs(t, err, apperrors.ErrOAuthWindowClosed)
	require.Nil(t, m.CurrentUser())
	require.Zero(t, b.requests.Load())
}

func TestRestore(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	login(t, newManager(t, b, store))

	m := newManager(t, b, store)
	require.Nil(t, m.CurrentUser())
	require.True(t, m.Restore(context.Background()))
	require.Equal(t, "u1", m.CurrentUser().ID)
	require.True(t, m.IsAuthenticated(context.Background()))
}

func TestRestore_PartialRecord(t *testing.T) {
	b := newBackend(t)
	store := memstore.New()
	require.NoError(t, store.Set(context.Background(), kvstore.KeyAuthToken, "T9"))
	require.NoError(t, store.Set(context.Background(), kvstore.KeyLanguage, "es"))

	m := newManager(t, b, store)
	require.False(t, m.Restore(context.Background()))
	require.Nil(t, m.CurrentUser())
	require.False(t, m.IsAuthenticated(context.Background()))
	require.Equal(t, "es", stored(t, store, kvstore.KeyLanguage))
}

func TestTokenExpiry_OpaqueToken(t *testing.T) {
	b := newBackend(t)
	m := newManager(t, b, memstore.New())
	login(t, m)

	_, ok := m.TokenExpiry(context.Background())
	require.False(t, ok)
}
