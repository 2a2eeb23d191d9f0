package mfa

import "errors"

var (
	// ErrAlreadyEnabled indicates setup was initiated for an owner whose
	// credential is already enabled.
	ErrAlreadyEnabled = errors.New("mfa already enabled")
	// ErrNotEnabled indicates an operation that requires an enabled
	// credential found none.
	ErrNotEnabled = errors.New("mfa not enabled")
	// ErrSetupNotInitiated indicates setup completion without a live
	// pending enrollment (absent or expired).
	ErrSetupNotInitiated = errors.New("mfa setup not initiated")
	// ErrInvalidCode indicates a malformed or non-matching one-time code.
	ErrInvalidCode = errors.New("invalid one-time code")
	// ErrRateLimited indicates too many failed verification attempts.
	ErrRateLimited = errors.New("too many failed verification attempts")
)
