package authsdk

import (
	"errors"

	"github.com/pavilionhq/authkit/pkg/httpx"
)

// ErrSessionEnded reports a refresh failure. Callers must treat it as the
// end of the session, not as a transient error to retry.
var ErrSessionEnded = errors.New("authsdk: session ended")

// ValidationError is bad local input, rejected before any network call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// errMessage maps any error from the auth flows onto a message from the
// fixed taxonomy, suitable for State.Err. Raw backend details and stack
// traces never pass through.
func errMessage(err error) string {
	if err == nil {
		return ""
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason
	}

	if errors.Is(err, ErrSessionEnded) {
		return "your session has expired, please sign in again"
	}

	var herr *httpx.Error
	if errors.As(err, &herr) {
		return herr.Message
	}

	return "an unexpected error occurred"
}
