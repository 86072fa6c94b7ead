package registry

import "errors"

// Sentinel errors for session resolution and refresh rotation; the coordinator maps
// them to flow outcomes.
var (
	// ErrSSOSessionInvalid is returned when an sso_token is absent, expired, or
	// superseded by a newer login.
	ErrSSOSessionInvalid = errors.New("sso session invalid or expired")
	// ErrRefreshTokenInvalid is returned when a refresh token is unknown or its
	// app session no longer exists.
	ErrRefreshTokenInvalid = errors.New("refresh token invalid or session expired")
	// ErrRefreshTokenReused is returned when a superseded refresh token is presented,
	// or when a concurrent rotation already consumed it. Possible token theft;
	// callers must force re-authentication.
	ErrRefreshTokenReused = errors.New("refresh token reuse detected")
	// ErrSessionNotFound is returned by app-session updates for a missing session.
	ErrSessionNotFound = errors.New("app session not found")
)
