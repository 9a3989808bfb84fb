package authsdk

import (
	"context"
	"errors"

	"github.com/pavilionhq/authkit/pkg/jwtx"
	"github.com/pavilionhq/authkit/pkg/tokenstore"
)

// Refresh exchanges the refresh token for a fresh token pair. Concurrent
// callers coalesce into a single network call and share its outcome; this
// is what makes the transport's 401 replay safe under parallel requests.
//
// A refresh failure is terminal for the session: state and storage are
// cleared and ErrSessionEnded is returned (wrapping the cause). A success
// updates state and storage in place without disturbing an already-running
// refresh timer.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		return nil, m.doRefresh(ctx)
	})
	return err
}

func (m *Manager) doRefresh(ctx context.Context) error {
	m.mu.RLock()
	epoch := m.epoch
	wasAuth := m.state.Authenticated
	var refreshToken string
	if m.state.Tokens != nil {
		refreshToken = m.state.Tokens.RefreshToken
	}
	m.mu.RUnlock()

	if refreshToken == "" {
		stored, err := m.store.Get(ctx, tokenstore.KeyRefreshToken)
		if err != nil {
			return errors.Join(ErrSessionEnded, err)
		}
		refreshToken = stored
	}
	if refreshToken == "" {
		return ErrSessionEnded
	}

	var payload sessionPayload
	if err := m.auth.Post(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &payload); err != nil {
		m.endSession(ctx, epoch)
		return errors.Join(ErrSessionEnded, err)
	}

	applied := m.setStateIfEpoch(epoch, func(s *State) {
		tokens := payload.Tokens
		s.Authenticated = true
		s.Loading = false
		s.Err = ""
		s.Tokens = &tokens
		if payload.User != nil {
			s.User = payload.User
		}
	})
	if !applied {
		// A logout won the race; its teardown already owns the store and
		// nothing of ours was written.
		return ErrSessionEnded
	}

	// Restoring a session from storage is the one path that reaches here
	// without a timer already running.
	if !wasAuth {
		m.mu.Lock()
		if m.epoch == epoch && m.stopRefresh == nil {
			m.startAutoRefreshLocked()
		}
		m.mu.Unlock()
	}

	m.persistTokens(ctx, payload.Tokens)

	// A logout racing the persist wins; drop what we just wrote.
	m.mu.RLock()
	stale := m.epoch != epoch
	m.mu.RUnlock()
	if stale {
		m.purgeIfLoggedOut(ctx)
	}

	return nil
}

// endSession tears the session down after a failed refresh: timer stopped,
// state cleared with the session-expired message, storage purged. A logout
// that already happened (epoch moved on) makes this a no-op.
func (m *Manager) endSession(ctx context.Context, epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	m.stopAutoRefreshLocked()
	m.epoch++
	m.state = State{Err: "your session has expired, please sign in again"}
	snapshot, fns := m.notifyLocked()
	m.mu.Unlock()
	dispatch(snapshot, fns)

	if err := m.store.Clear(ctx); err != nil {
		m.log.Warn("failed to purge stored tokens", "error", err)
	}
}

// Initialize restores a persisted session at startup. A missing or
// (inspectably) expired refresh token, and any refresh failure, leave the
// Manager anonymous; Initialize never blocks startup on an unusable
// session and never returns an error for one.
func (m *Manager) Initialize(ctx context.Context) {
	refreshToken, err := m.store.Get(ctx, tokenstore.KeyRefreshToken)
	if err != nil {
		m.log.Warn("failed to read stored session", "error", err)
		return
	}
	if refreshToken == "" {
		return
	}

	// Expiry inspection is best effort: opaque (non-JWT) refresh tokens
	// skip the check and go straight to the backend.
	if exp, err := jwtx.Expiration(refreshToken); err == nil && !exp.After(m.now()) {
		m.log.Info("stored session expired, starting anonymous")
		if err := m.store.Clear(ctx); err != nil {
			m.log.Warn("failed to purge stored tokens", "error", err)
		}
		return
	}

	// No state is published until the refresh lands: doRefresh picks the
	// token up from the store, so observers only ever see anonymous or
	// fully authenticated, never a token without a session.
	if err := m.Refresh(ctx); err != nil {
		m.log.Info("stored session could not be restored", "error", err)
	}
}
