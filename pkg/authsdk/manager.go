package authsdk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/pavilionhq/authkit/pkg/httpx"
	"github.com/pavilionhq/authkit/pkg/jwtx"
	"github.com/pavilionhq/authkit/pkg/slogx"
	"github.com/pavilionhq/authkit/pkg/storage"
	"github.com/pavilionhq/authkit/pkg/tokenstore"
)

// Manager is the auth session state machine. One instance per running
// application: its single-flight refresh, session epoch, and refresh timer
// invariants assume it is not sharded.
type Manager struct {
	cfg   Config
	api   *httpx.Client
	auth  *httpx.Client
	store *tokenstore.Store
	log   *slog.Logger

	mu          sync.RWMutex
	state       State
	epoch       uint64
	stopRefresh chan struct{}
	subs        map[int]func(State)
	nextSub     int

	refreshGroup singleflight.Group
	limiter      *rate.Limiter
	login        loginCall
	now          func() time.Time
}

// New creates a Manager persisting sealed tokens into backend.
// Pass a nil logger to disable logging.
func New(cfg Config, backend storage.Backend, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slogx.Discard()
	}

	store, err := tokenstore.New(backend, log)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		store:   store,
		log:     log,
		subs:    make(map[int]func(State)),
		limiter: rate.NewLimiter(cfg.LoginRate, cfg.LoginBurst),
		now:     time.Now,
	}

	// The auth transport carries the login/refresh/logout calls. It skips
	// bearer injection (a 401 here must not recurse into refresh) and
	// transport-level retry (login layers its own bounded retry).
	m.auth = httpx.NewClient(httpx.Options{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		SkipAuth:  true,
		SkipRetry: true,
		Logger:    log,
	})

	// The API transport is what the embedding application uses for
	// authenticated calls: bearer injection, retry, breaker, and the
	// one-shot 401 refresh-replay all wired in.
	m.api = httpx.NewClient(httpx.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		UseBreaker: true,
		Breaker:    httpx.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		Retry:      cfg.Retry,
		Tokens:     m,
		Refresher:  m,
		Logger:     log,
	})

	// Cross-cutting concerns wrap the raw login call as explicit
	// middleware, innermost first.
	m.login = withRateLimit(m.limiter, withAudit(log, m.doLogin))

	return m, nil
}

// Transport returns the authenticated API client for application calls.
func (m *Manager) Transport() *httpx.Client { return m.api }

// State returns a snapshot of the current auth state. Mutating the
// returned value has no effect on the Manager.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneState(m.state)
}

// Subscribe registers fn to receive every state transition. The returned
// cancel function removes the subscription.
func (m *Manager) Subscribe(fn func(State)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// ClearError resets State.Err.
func (m *Manager) ClearError() {
	m.setState(func(s *State) { s.Err = "" })
}

// AccessToken implements httpx.TokenSource for the API transport.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.Tokens == nil {
		return ""
	}
	return m.state.Tokens.AccessToken
}

// ValidateToken decodes the token's payload and compares its expiry claim
// against the current time. Returns false for malformed tokens; never
// panics. This is a UX check only, not a security boundary.
func (m *Manager) ValidateToken(token string) bool {
	return jwtx.IsActive(token, m.now())
}

// Logout ends the session. The refresh timer is stopped and the session
// epoch bumped synchronously as the first step, so a late-arriving refresh
// result can never resurrect the session. The network call is best-effort:
// its errors are logged, never surfaced. Logout always succeeds locally.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.stopAutoRefreshLocked()
	m.epoch++

	var refreshToken string
	if m.state.Tokens != nil {
		refreshToken = m.state.Tokens.RefreshToken
	}
	m.state = State{}
	snapshot, fns := m.notifyLocked()
	m.mu.Unlock()
	dispatch(snapshot, fns)

	if refreshToken != "" {
		if err := m.auth.Post(ctx, "/auth/logout", refreshRequest{RefreshToken: refreshToken}, nil); err != nil {
			m.log.Warn("logout request failed, session already cleared locally", "error", err)
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("failed to purge stored tokens", "error", err)
	}

	return nil
}

// Close tears the Manager down, stopping the refresh timer.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopAutoRefreshLocked()
	m.epoch++
	m.mu.Unlock()
}

// setState applies mutate under the state lock and notifies subscribers.
// Subscribers always observe fully-applied states, never partial updates.
func (m *Manager) setState(mutate func(*State)) {
	m.mu.Lock()
	mutate(&m.state)
	snapshot, fns := m.notifyLocked()
	m.mu.Unlock()
	dispatch(snapshot, fns)
}

// setStateIfEpoch is setState guarded by the session epoch: the mutation
// is discarded when a logout (or a newer session) has happened since the
// caller captured epoch. Reports whether the mutation was applied.
func (m *Manager) setStateIfEpoch(epoch uint64, mutate func(*State)) bool {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return false
	}
	mutate(&m.state)
	snapshot, fns := m.notifyLocked()
	m.mu.Unlock()
	dispatch(snapshot, fns)
	return true
}

// notifyLocked snapshots the state and subscriber list. Caller holds mu.
func (m *Manager) notifyLocked() (State, []func(State)) {
	fns := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	return cloneState(m.state), fns
}

// dispatch runs subscriber callbacks outside the state lock.
func dispatch(snapshot State, fns []func(State)) {
	for _, fn := range fns {
		fn(snapshot)
	}
}

// startAutoRefreshLocked installs the recurring refresh timer, replacing
// any previous one first so timers never leak. Caller holds mu.
func (m *Manager) startAutoRefreshLocked() {
	m.stopAutoRefreshLocked()

	stop := make(chan struct{})
	m.stopRefresh = stop
	interval := m.cfg.RefreshInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
				if err := m.Refresh(ctx); err != nil {
					// Refresh already tore the session down; the timer is
					// stopped by that teardown.
					m.log.Info("automatic refresh failed", "error", err)
				}
				cancel()
			}
		}
	}()
}

// stopAutoRefreshLocked cancels the refresh timer if one is running.
// Caller holds mu.
func (m *Manager) stopAutoRefreshLocked() {
	if m.stopRefresh != nil {
		close(m.stopRefresh)
		m.stopRefresh = nil
	}
}

func cloneState(s State) State {
	out := s
	if s.User != nil {
		user := *s.User
		out.User = &user
	}
	if s.Tokens != nil {
		tokens := *s.Tokens
		out.Tokens = &tokens
	}
	return out
}
