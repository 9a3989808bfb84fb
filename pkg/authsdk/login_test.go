package authsdk

import (
	"context"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/pavilionhq/authkit/pkg/httpx"
	"github.com/pavilionhq/authkit/pkg/storage"
	"github.com/pavilionhq/authkit/pkg/tokenstore"
)

func TestLoginSuccess(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	backend := storage.NewMemory()
	m, err := New(testConfig(api.srv.URL), backend, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	ctx := context.Background()
	require.NoError(t, m.Login(ctx, testCredentials()))

	state := m.State()
	require.True(t, state.Authenticated)
	require.False(t, state.Loading)
	require.Empty(t, state.Err)
	require.Equal(t, "ava@example.com", state.User.Email)
	require.Equal(t, RoleRegularUser, state.User.Role)
	require.Equal(t, "access-1", state.Tokens.AccessToken)
	require.Equal(t, "access-1", m.AccessToken())

	// Tokens are sealed at rest: the backend holds base64 ciphertext, never
	// the plaintext token.
	sealed, err := backend.Get(ctx, tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.NotEqual(t, "access-1", sealed)
	require.NotContains(t, sealed, "access-1")
	_, err = base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
}

func TestLoginValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		creds Credentials
	}{
		{"empty email", Credentials{Email: "", Password: "Secret123!"}},
		{"empty password", Credentials{Email: "ava@example.com", Password: ""}},
		{"malformed email", Credentials{Email: "not-an-email", Password: "Secret123!"}},
		{"email without domain dot", Credentials{Email: "ava@localhost", Password: "Secret123!"}},
	}

	api := newFakeAPI(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, api.srv.URL)

			err := m.Login(context.Background(), tc.creds)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, m.State().Err)
			require.False(t, m.State().Authenticated)
		})
	}

	// Validation failures never reach the network.
	require.Equal(t, int32(0), api.loginCalls.Load())
}

func TestLoginRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.loginFunc = func(w http.ResponseWriter, r *http.Request) {
		if api.loginCalls.Load() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeSession(w, "access-1", "refresh-1")
	}

	m := newTestManager(t, api.srv.URL)
	require.NoError(t, m.Login(context.Background(), testCredentials()))
	require.Equal(t, int32(3), api.loginCalls.Load())
	require.True(t, m.State().Authenticated)
}

func TestLoginExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.loginFunc = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	m := newTestManager(t, api.srv.URL)
	err := m.Login(context.Background(), testCredentials())

	var herr *httpx.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, httpx.KindServer, herr.Kind)
	require.Equal(t, int32(3), api.loginCalls.Load())

	state := m.State()
	require.False(t, state.Authenticated)
	require.False(t, state.Loading)
	require.NotEmpty(t, state.Err)
}

func TestLoginBadCredentialsDoNotRetry(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	api.loginFunc = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad credentials"}`))
	}

	m := newTestManager(t, api.srv.URL)
	err := m.Login(context.Background(), testCredentials())

	var herr *httpx.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, httpx.KindAuth, herr.Kind)
	require.Equal(t, int32(1), api.loginCalls.Load())
	require.False(t, m.State().Authenticated)
}

func TestCompetingLoginKeepsWinnerSession(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	api.loginFunc = func(w http.ResponseWriter, r *http.Request) {
		if api.loginCalls.Load() == 1 {
			close(entered)
			<-release
			writeSession(w, "access-slow", "refresh-slow")
			return
		}
		writeSession(w, "access-fast", "refresh-fast")
	}

	backend := storage.NewMemory()
	m, err := New(testConfig(api.srv.URL), backend, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- m.Login(ctx, testCredentials()) }()

	// A second login completes while the first is still on the wire.
	<-entered
	require.NoError(t, m.Login(ctx, testCredentials()))
	close(release)

	require.ErrorIs(t, <-done, ErrSessionEnded)

	// The winner's session survives, in memory and at rest.
	state := m.State()
	require.True(t, state.Authenticated)
	require.Equal(t, "access-fast", m.AccessToken())

	access, err := m.store.Get(ctx, tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, "access-fast", access)
	refresh, err := m.store.Get(ctx, tokenstore.KeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "refresh-fast", refresh)
}

func TestLoginRateLimited(t *testing.T) {
	t.Parallel()

	api := newFakeAPI(t)
	cfg := testConfig(api.srv.URL)
	cfg.LoginRate = rate.Limit(0.001)
	cfg.LoginBurst = 1

	m, err := New(cfg, storage.NewMemory(), nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	ctx := context.Background()
	require.NoError(t, m.Login(ctx, testCredentials()))

	err = m.Login(ctx, testCredentials())
	var herr *httpx.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, httpx.KindRateLimit, herr.Kind)

	// The throttled attempts never left the process.
	require.Equal(t, int32(1), api.loginCalls.Load())
}
