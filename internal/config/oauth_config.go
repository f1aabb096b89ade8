package config

import "time"

type OAuthConfig interface {
	GetClientID() string
	GetHTTPTimeout() time.Duration
	GetOAuthPollInterval() time.Duration
	GetOAuthTimeout() time.Duration
}

type OAuth struct{}

var _ OAuthConfig = OAuth{}

// GetClientID is sent with token requests only when set.
func (OAuth) GetClientID() string {
	return GetEnv("CLIENT_ID", "")
}

func (OAuth) GetHTTPTimeout() time.Duration {
	return GetDurationEnv("HTTP_TIMEOUT", 30*time.Second)
}

// GetOAuthPollInterval is how often the provider popup is checked for having been closed.
func (OAuth) GetOAuthPollInterval() time.Duration {
	return GetDurationEnv("OAUTH_POLL_INTERVAL", 500*time.Millisecond)
}

// GetOAuthTimeout bounds the provider popup wait. Zero disables the timeout.
func (OAuth) GetOAuthTimeout() time.Duration {
	return GetDurationEnv("OAUTH_TIMEOUT", 5*time.Minute)
}
