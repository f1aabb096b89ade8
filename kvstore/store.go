// Package kvstore defines the string key/value persistence the session layer
// keeps its credentials and preferences in.
package kvstore

import "context"

// Persisted keys.
const (
	KeyAuthToken       = "auth_token"
	KeyRefreshToken    = "refresh_token"
	KeyUserData        = "user_data"
	KeyLanguage        = "lang"
	KeyThemePreference = "theme_preference"
)

// CredentialKeys are written and removed together as one credential record.
var CredentialKeys = []string{KeyAuthToken, KeyRefreshToken, KeyUserData}

// Store is a durable map of strings.
type Store interface {
	// Get returns errors.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes a single key.
	Set(ctx context.Context, key, value string) error

	// SetMany writes every pair or none of them.
	SetMany(ctx context.Context, values map[string]string) error

	// Remove deletes the keys. Missing keys are not an error.
	Remove(ctx context.Context, keys ...string) error

	// Clear deletes everything.
	Clear(ctx context.Context) error
}
