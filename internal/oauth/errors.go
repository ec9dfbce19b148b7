package oauth

import "errors"

var (
	// ErrStateMismatch means the callback carried a state that was never
	// issued, was tampered with, expired, or was already consumed. The flow
	// fails closed; nothing is persisted.
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrInvalidGrant means the provider reported the refresh token as
	// permanently unusable (revoked or expired). The caller must re-run the
	// full consent flow.
	ErrInvalidGrant = errors.New("refresh token no longer valid")
)

// TransientError wraps provider/network failures that are worth retrying.
// The stored token record must be left untouched when one of these surfaces.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient provider error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
