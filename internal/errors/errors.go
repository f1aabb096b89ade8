package errors

import (
	"errors"
)

// Error taxonomy surfaced by the session manager and its collaborators.
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotSignedIn        = errors.New("not signed in")

	// Token errors
	ErrNoRefreshToken = errors.New("no refresh token")
	ErrRefreshFailed  = errors.New("refresh failed")

	// External provider errors
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrOAuthCancelled      = errors.New("oauth cancelled")
	ErrOAuthWindowClosed   = errors.New("oauth window closed")
	ErrOAuthTimeout        = errors.New("oauth timed out")

	// Transport errors (connection failures and 5xx responses)
	ErrNetwork = errors.New("network error")

	// Realtime errors
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")

	// Storage and preference errors
	ErrNotFound          = errors.New("not found")
	ErrInvalidPreference = errors.New("invalid preference")
)
