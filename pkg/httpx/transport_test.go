package httpx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pavilionhq/authkit/pkg/httpx"
	"github.com/pavilionhq/authkit/pkg/idx"
)

// fastRetry keeps test backoff in the millisecond range.
func fastRetry(maxAttempts int) httpx.RetryPolicy {
	return httpx.RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxJitter:   time.Millisecond,
	}
}

type staticTokens struct{ token atomic.Value }

func (s *staticTokens) AccessToken() string {
	if v := s.token.Load(); v != nil {
		return v.(string)
	}
	return ""
}

type refresherFunc func(ctx context.Context) error

func (f refresherFunc) Refresh(ctx context.Context) error { return f(ctx) }

func TestRetryCapAgainstFailingEndpoint(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client := httpx.NewClient(httpx.Options{
		BaseURL:  server.URL,
		SkipAuth: true,
		Retry:    fastRetry(3),
	})

	err := client.Post(context.Background(), "/anything", map[string]string{"k": "v"}, nil)
	require.Error(t, err)

	var herr *httpx.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, httpx.KindServer, herr.Kind)
	require.Equal(t, http.StatusServiceUnavailable, herr.StatusCode)
	require.EqualValues(t, 3, calls.Load(), "exactly MaxAttempts network attempts")
}

func TestNonRetryableShortCircuits(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	client := httpx.NewClient(httpx.Options{
		BaseURL:  server.URL,
		SkipAuth: true,
		Retry:    fastRetry(3),
	})

	err := client.Get(context.Background(), "/thing", nil)
	var herr *httpx.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, httpx.KindBadRequest, herr.Kind)
	require.EqualValues(t, 1, calls.Load(), "400 must surface on first occurrence")
}

func TestUnauthorizedTriggersSingleRefreshAndReplay(t *testing.T) {
	t.Parallel()

	var calls, refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(server.Close)

	tokens := &staticTokens{}
	tokens.token.Store("stale")

	client := httpx.NewClient(httpx.Options{
		BaseURL: server.URL,
		Retry:   fastRetry(3),
		Tokens:  tokens,
		Refresher: refresherFunc(func(ctx context.Context) error {
			refreshes.Add(1)
			tokens.token.Store("fresh")
			return nil
		}),
	})

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, client.Get(context.Background(), "/data", &out))
	require.True(t, out.OK)
	require.EqualValues(t, 1, refreshes.Load(), "exactly one refresh")
	require.EqualValues(t, 2, calls.Load(), "original attempt plus one replay")
}

func TestUnauthorizedAfterFailedRefreshPropagates(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	client := httpx.NewClient(httpx.Options{
		BaseURL: server.URL,
		Retry:   fastRetry(3),
		Tokens:  &staticTokens{},
		Refresher: refresherFunc(func(ctx context.Context) error {
			return httpx.NewError(httpx.KindAuth, http.StatusUnauthorized)
		}),
	})

	err := client.Get(context.Background(), "/data", nil)
	var herr *httpx.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, httpx.KindAuth, herr.Kind)
	require.EqualValues(t, 1, calls.Load(), "no replay after a failed refresh")
}

func TestSkipAuthNeverRefreshes(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	refreshed := false
	client := httpx.NewClient(httpx.Options{
		BaseURL:  server.URL,
		SkipAuth: true,
		Retry:    fastRetry(2),
		Refresher: refresherFunc(func(ctx context.Context) error {
			refreshed = true
			return nil
		}),
	})

	err := client.Post(context.Background(), "/auth/refresh", map[string]string{}, nil)
	require.Error(t, err)
	require.False(t, refreshed, "a 401 on a skip-auth client must not recurse into refresh")
}

func TestRequestInterceptorsAttachMetadata(t *testing.T) {
	t.Parallel()

	var gotRequestID, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get(httpx.RequestIDHeader)
		gotHeader = r.Header.Get("X-Portal-Client")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	client := httpx.NewClient(httpx.Options{
		BaseURL:  server.URL,
		SkipAuth: true,
		Headers:  map[string]string{"X-Portal-Client": "authkit-test"},
	})

	require.NoError(t, client.Get(context.Background(), "/ping", nil))

	_, err := idx.Parse(gotRequestID)
	require.NoError(t, err, "request id must be a valid ULID")
	require.Equal(t, "authkit-test", gotHeader)
}

func TestResponseInterceptorSeesElapsedTime(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	client := httpx.NewClient(httpx.Options{BaseURL: server.URL, SkipAuth: true})

	var observed time.Duration
	client.UseResponse(func(req *http.Request, resp *http.Response, elapsed time.Duration) {
		observed = elapsed
	})

	require.NoError(t, client.Get(context.Background(), "/slow", nil))
	require.GreaterOrEqual(t, observed, 10*time.Millisecond)
}

func TestBreakerFailsFastWithoutNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := httpx.NewClient(httpx.Options{
		BaseURL:    server.URL,
		SkipAuth:   true,
		SkipRetry:  true,
		UseBreaker: true,
	})

	for i := 0; i < 5; i++ {
		require.Error(t, client.Get(context.Background(), "/down", nil))
	}
	require.EqualValues(t, 5, calls.Load())
	require.True(t, client.Breaker().IsOpen())

	// Sixth call fails fast, no network touch.
	err := client.Get(context.Background(), "/down", nil)
	var herr *httpx.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, httpx.KindCircuitOpen, herr.Kind)
	require.EqualValues(t, 5, calls.Load(), "open breaker must bypass the network")
}

func TestBreakerResetsAfterSuccess(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	breaker := httpx.NewBreaker(3, time.Minute)
	client := httpx.NewClient(httpx.Options{
		BaseURL:   server.URL,
		SkipAuth:  true,
		SkipRetry: true,
		Breaker:   breaker,
	})

	for i := 0; i < 2; i++ {
		require.Error(t, client.Get(context.Background(), "/flaky", nil))
	}
	require.Equal(t, 2, breaker.Failures())

	fail.Store(false)
	require.NoError(t, client.Get(context.Background(), "/flaky", nil))
	require.Zero(t, breaker.Failures(), "success resets the failure count")
}

func TestNetworkFailureClassification(t *testing.T) {
	t.Parallel()

	// Point at a server that is already closed.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := httpx.NewClient(httpx.Options{
		BaseURL:   server.URL,
		SkipAuth:  true,
		SkipRetry: true,
	})

	err := client.Get(context.Background(), "/gone", nil)
	var herr *httpx.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, httpx.KindNetwork, herr.Kind)
	require.Zero(t, herr.StatusCode)
	require.True(t, herr.Retryable())
}
