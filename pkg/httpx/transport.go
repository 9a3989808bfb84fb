// Package httpx is the HTTP transport layer of the SDK: a JSON client with
// an explicit interceptor pipeline, retry with backoff, and a circuit
// breaker. Failures normalize into the package's Error taxonomy.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pavilionhq/authkit/pkg/idx"
	"github.com/pavilionhq/authkit/pkg/slogx"
)

// RequestIDHeader carries the per-request ULID for log correlation.
const RequestIDHeader = "X-Request-ID"

// DefaultTimeout bounds each HTTP call; a timeout is a network failure
// eligible for retry.
const DefaultTimeout = 10 * time.Second

// TokenSource supplies the current bearer token for the Authorization
// header. An empty string means no header is attached.
type TokenSource interface {
	AccessToken() string
}

// Refresher performs a one-shot token refresh after a 401, before the
// original request is replayed.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RequestInterceptor mutates an outgoing request. Interceptors run in
// order; the first error aborts the request.
type RequestInterceptor func(req *http.Request) error

// ResponseInterceptor observes a completed exchange. resp is nil when no
// response was received.
type ResponseInterceptor func(req *http.Request, resp *http.Response, elapsed time.Duration)

// Options configures a Client.
type Options struct {
	// BaseURL is prepended to every request path.
	BaseURL string

	// Timeout bounds each HTTP call. Zero means DefaultTimeout.
	Timeout time.Duration

	// Headers are attached to every request.
	Headers map[string]string

	// SkipAuth disables bearer injection and 401 refresh-replay. The
	// login/refresh calls themselves run on a SkipAuth client so a 401
	// there can never recursively trigger another refresh.
	SkipAuth bool

	// SkipRetry disables transport-level retry. Callers that layer their
	// own retry (login) set this.
	SkipRetry bool

	// UseBreaker guards this client with a circuit breaker.
	UseBreaker bool

	// Retry overrides the retry policy. Zero value means defaults.
	Retry RetryPolicy

	// Breaker shares an existing breaker between clients. When nil and
	// UseBreaker is set, the client creates its own.
	Breaker *Breaker

	// Tokens supplies bearer tokens when SkipAuth is false.
	Tokens TokenSource

	// Refresher handles 401s when SkipAuth is false.
	Refresher Refresher

	// HTTPClient overrides the underlying client, for tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Client is a JSON HTTP client. All request mutation goes through the
// ordered interceptor list so cross-cutting concerns stay out of the send
// path.
type Client struct {
	baseURL   string
	http      *http.Client
	skipAuth  bool
	skipRetry bool
	retry     RetryPolicy
	breaker   *Breaker
	tokens    TokenSource
	refresher Refresher
	log       *slog.Logger

	reqInterceptors  []RequestInterceptor
	respInterceptors []ResponseInterceptor
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	breaker := opts.Breaker
	if breaker == nil && opts.UseBreaker {
		breaker = NewBreaker(DefaultBreakerThreshold, DefaultBreakerCooldown)
	}

	log := opts.Logger
	if log == nil {
		log = slogx.Discard()
	}

	c := &Client{
		baseURL:   opts.BaseURL,
		http:      httpClient,
		skipAuth:  opts.SkipAuth,
		skipRetry: opts.SkipRetry,
		retry:     retry,
		breaker:   breaker,
		tokens:    opts.Tokens,
		refresher: opts.Refresher,
		log:       log,
	}

	headers := opts.Headers
	c.reqInterceptors = []RequestInterceptor{
		func(req *http.Request) error {
			for key, value := range headers {
				req.Header.Set(key, value)
			}
			req.Header.Set(RequestIDHeader, idx.New().String())
			if req.Body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			return nil
		},
	}
	if !c.skipAuth {
		c.reqInterceptors = append(c.reqInterceptors, func(req *http.Request) error {
			if c.tokens != nil {
				if token := c.tokens.AccessToken(); token != "" {
					req.Header.Set("Authorization", "Bearer "+token)
				}
			}
			return nil
		})
	}

	c.respInterceptors = []ResponseInterceptor{
		func(req *http.Request, resp *http.Response, elapsed time.Duration) {
			attrs := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"request_id", req.Header.Get(RequestIDHeader),
				"elapsed_ms", elapsed.Milliseconds(),
			}
			if resp != nil {
				attrs = append(attrs, "status", resp.StatusCode)
			}
			c.log.Debug("http request completed", attrs...)
		},
	}

	return c
}

// UseRequest appends a custom request interceptor.
func (c *Client) UseRequest(ri RequestInterceptor) {
	c.reqInterceptors = append(c.reqInterceptors, ri)
}

// UseResponse appends a custom response interceptor.
func (c *Client) UseResponse(ri ResponseInterceptor) {
	c.respInterceptors = append(c.respInterceptors, ri)
}

// Breaker exposes the client's breaker, nil when disabled.
func (c *Client) Breaker() *Breaker { return c.breaker }

// Post issues a JSON POST.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Get issues a GET.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Do sends a request, retrying per the retry policy and handling the
// one-shot 401 refresh-replay. On success the JSON response body is decoded
// into out (when non-nil). On failure it returns an *Error.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return NewError(KindValidation, 0)
		}
	}

	replayed := false
	for attempt := 0; ; {
		err := c.send(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}

		var herr *Error
		if !errors.As(err, &herr) {
			return err
		}

		// A 401 on a normal request triggers exactly one refresh and one
		// replay; a second 401 or a failed refresh ends the exchange.
		if herr.StatusCode == http.StatusUnauthorized && !c.skipAuth && c.refresher != nil && !replayed {
			if refreshErr := c.refresher.Refresh(ctx); refreshErr != nil {
				c.log.Debug("token refresh after 401 failed", "error", refreshErr)
				return herr
			}
			replayed = true
			continue
		}

		if c.skipRetry || !c.retry.ShouldRetry(err, attempt) {
			return err
		}

		if waitErr := c.retry.Wait(ctx, attempt); waitErr != nil {
			return NetworkError()
		}
		attempt++
	}
}

// send performs a single attempt: breaker gate, interceptor pipeline, the
// HTTP exchange, classification, and breaker accounting.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, out any) error {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return err
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return NewError(KindValidation, 0)
	}

	for _, intercept := range c.reqInterceptors {
		if err := intercept(req); err != nil {
			return NewError(KindValidation, 0)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)

	for _, observe := range c.respInterceptors {
		observe(req, resp, elapsed)
	}

	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		nerr := NetworkError()
		nerr.RequestID = req.Header.Get(RequestIDHeader)
		return nerr
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		nerr := NetworkError()
		nerr.RequestID = req.Header.Get(RequestIDHeader)
		return nerr
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if c.breaker != nil {
			c.breaker.RecordSuccess()
		}
		if out != nil && len(bodyBytes) > 0 {
			if err := json.Unmarshal(bodyBytes, out); err != nil {
				return NewError(KindUnknown, resp.StatusCode)
			}
		}
		return nil
	}

	if c.breaker != nil {
		c.breaker.RecordFailure()
	}

	herr := ClassifyStatus(resp.StatusCode, bodyBytes)
	herr.RequestID = req.Header.Get(RequestIDHeader)
	return herr
}
