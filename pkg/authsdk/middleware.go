package authsdk

import (
	"context"
	"log/slog"
	"time"

	"github.com/pavilionhq/authkit/pkg/httpx"
	"golang.org/x/time/rate"
)

// loginCall is the shape of the login operation so cross-cutting concerns
// compose around it as plain wrappers instead of living inside the flow.
type loginCall func(ctx context.Context, creds Credentials) (*sessionPayload, error)

// withRateLimit rejects login attempts beyond the local limiter's budget
// with a rate-limit error, before any network traffic.
func withRateLimit(limiter *rate.Limiter, next loginCall) loginCall {
	return func(ctx context.Context, creds Credentials) (*sessionPayload, error) {
		if !limiter.Allow() {
			return nil, httpx.NewError(httpx.KindRateLimit, 0)
		}
		return next(ctx, creds)
	}
}

// withAudit logs every login attempt and its outcome. Credentials never
// reach the log; only the email identifies the attempt.
func withAudit(log *slog.Logger, next loginCall) loginCall {
	return func(ctx context.Context, creds Credentials) (*sessionPayload, error) {
		start := time.Now()
		payload, err := next(ctx, creds)

		attrs := []any{
			"email", creds.Email,
			"elapsed_ms", time.Since(start).Milliseconds(),
		}
		if err != nil {
			log.Warn("login attempt failed", append(attrs, "error", err)...)
			return nil, err
		}

		log.Info("login attempt succeeded", attrs...)
		return payload, nil
	}
}
