package authsdk

import (
	"context"
	"errors"
	"time"

	"github.com/pavilionhq/authkit/pkg/httpx"
	"github.com/pavilionhq/authkit/pkg/tokenstore"
)

// Login authenticates with the portal backend.
//
// Credentials are validated locally first; invalid input fails fast with a
// ValidationError and no network call. The authentication endpoint is then
// tried up to Config.LoginAttempts times with exponential backoff between
// attempts; this outer retry has its own counter and exists specifically
// for auth-endpoint flakiness (the underlying transport has retry
// disabled). On success the tokens are sealed and persisted, the state
// becomes AUTHENTICATED, and the automatic refresh timer is installed. On
// exhaustion the state returns to ANONYMOUS carrying the last error, which
// is also returned.
func (m *Manager) Login(ctx context.Context, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		m.setState(func(s *State) { s.Err = errMessage(err) })
		return err
	}

	m.mu.RLock()
	epoch := m.epoch
	m.mu.RUnlock()

	m.setState(func(s *State) {
		s.Loading = true
		s.Err = ""
	})

	payload, err := m.loginWithRetry(ctx, creds)
	if err != nil {
		m.setStateIfEpoch(epoch, func(s *State) {
			*s = State{Err: errMessage(err)}
		})
		return err
	}

	m.mu.Lock()
	if m.epoch != epoch {
		// A logout or a competing login won while we were on the wire; its
		// outcome stands and nothing of ours reaches storage.
		m.mu.Unlock()
		return ErrSessionEnded
	}
	m.epoch++
	sessionEpoch := m.epoch
	tokens := payload.Tokens
	m.state = State{Authenticated: true, User: payload.User, Tokens: &tokens}
	m.startAutoRefreshLocked()
	snapshot, fns := m.notifyLocked()
	m.mu.Unlock()
	dispatch(snapshot, fns)

	m.persistTokens(ctx, payload.Tokens)

	// A logout racing the persist wins; drop what we just wrote. A newer
	// login owns the store by now, so only an ended session purges.
	m.mu.RLock()
	stale := m.epoch != sessionEpoch
	m.mu.RUnlock()
	if stale {
		m.purgeIfLoggedOut(ctx)
	}

	return nil
}

// purgeIfLoggedOut clears stored tokens unless a live session owns them.
func (m *Manager) purgeIfLoggedOut(ctx context.Context) {
	m.mu.RLock()
	authenticated := m.state.Authenticated
	m.mu.RUnlock()
	if authenticated {
		return
	}
	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("failed to purge stored tokens", "error", err)
	}
}

// loginWithRetry drives the bounded outer retry around the composed login
// call. Attempt n is followed by a LoginBackoff * 2^n wait, and only
// retryable failures consume further attempts.
func (m *Manager) loginWithRetry(ctx context.Context, creds Credentials) (*sessionPayload, error) {
	var lastErr error

	for attempt := 0; attempt < m.cfg.LoginAttempts; attempt++ {
		payload, err := m.login(ctx, creds)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		var herr *httpx.Error
		if !errors.As(err, &herr) || !herr.Retryable() {
			return nil, err
		}

		if attempt+1 < m.cfg.LoginAttempts {
			if err := sleep(ctx, m.cfg.LoginBackoff<<uint(attempt)); err != nil {
				return nil, httpx.NetworkError()
			}
		}
	}

	return nil, lastErr
}

// doLogin is the raw authentication call the middleware chain wraps.
func (m *Manager) doLogin(ctx context.Context, creds Credentials) (*sessionPayload, error) {
	var payload sessionPayload
	if err := m.auth.Post(ctx, "/auth/login", creds, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// persistTokens seals and writes both tokens. Storage failures degrade the
// session to in-memory only; they don't fail the operation.
func (m *Manager) persistTokens(ctx context.Context, tokens Tokens) {
	if err := m.store.Put(ctx, tokenstore.KeyAccessToken, tokens.AccessToken); err != nil {
		m.log.Warn("failed to persist access token", "error", err)
	}
	if err := m.store.Put(ctx, tokenstore.KeyRefreshToken, tokens.RefreshToken); err != nil {
		m.log.Warn("failed to persist refresh token", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
