// Package tokenstore persists auth tokens encrypted at rest.
//
// Plaintext tokens exist only in memory for the duration of a call. A value
// that cannot be decrypted (tampered, or sealed by a previous process whose
// key is gone) is reported as absent rather than as an error, so callers can
// fall back to a fresh login instead of failing hard.
package tokenstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/pavilionhq/authkit/pkg/cryptox"
	"github.com/pavilionhq/authkit/pkg/slogx"
	"github.com/pavilionhq/authkit/pkg/storage"
)

// Fixed keys under which the two session tokens are persisted. No other
// durable layout is in scope.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Store seals values before they reach the backend and opens them on the
// way out.
type Store struct {
	backend storage.Backend
	sealer  *cryptox.Sealer
	log     *slog.Logger
}

// New creates a Store over backend with a fresh process-local sealer.
// Pass a nil logger to disable logging.
func New(backend storage.Backend, log *slog.Logger) (*Store, error) {
	sealer, err := cryptox.NewSealer()
	if err != nil {
		return nil, err
	}
	return NewWithSealer(backend, sealer, log), nil
}

// NewWithSealer creates a Store with an explicit sealer, for tests that
// need to share key material across instances.
func NewWithSealer(backend storage.Backend, sealer *cryptox.Sealer, log *slog.Logger) *Store {
	if log == nil {
		log = slogx.Discard()
	}
	return &Store{backend: backend, sealer: sealer, log: log}
}

// Put seals plaintext and writes it under key.
func (s *Store) Put(ctx context.Context, key, plaintext string) error {
	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, key, sealed)
}

// Get reads and unseals the value under key. It returns ("", nil) when the
// key is absent or the stored value does not decrypt; only backend I/O
// failures surface as errors.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	sealed, err := s.backend.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	plaintext, err := s.sealer.Open(sealed)
	if err != nil {
		// Undecryptable means no valid session, not a hard failure.
		s.log.Debug("stored token did not decrypt, treating as absent", "key", key)
		return "", nil
	}

	return plaintext, nil
}

// Remove deletes the value under key.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.backend.Remove(ctx, key)
}

// Clear removes both session tokens. The first failure is returned but
// both removals are always attempted.
func (s *Store) Clear(ctx context.Context) error {
	accessErr := s.backend.Remove(ctx, KeyAccessToken)
	refreshErr := s.backend.Remove(ctx, KeyRefreshToken)
	if accessErr != nil {
		return accessErr
	}
	return refreshErr
}
