package auth

import "errors"

// Sentinel errors for the coordinator; callers map them to their transport's codes.
// Session and credential errors from the underlying packages pass through unchanged:
// identity.ErrInvalidCredentials, registry.ErrSSOSessionInvalid,
// registry.ErrRefreshTokenInvalid, registry.ErrRefreshTokenReused.
var (
	// ErrAccessDenied is returned when the user holds no grant for the requested client.
	ErrAccessDenied = errors.New("access to client denied")
	// ErrTooManyAttempts is returned when the login rate limit for an identifier is hit.
	ErrTooManyAttempts = errors.New("too many login attempts")
)
