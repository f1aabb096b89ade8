// Package jwt reads claims out of access tokens without verifying them. The
// client never trusts these values; they are informational (status output,
// logging) because expiry is discovered from 401 responses.
package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims is the subset of registered claims the client cares about.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Parse decodes the token payload. Opaque (non JWT) tokens return an error.
func Parse(accessToken string) (Claims, error) {
	var registered jwtlib.RegisteredClaims
	if _, _, err := jwtlib.NewParser().ParseUnverified(accessToken, &registered); err != nil {
		return Claims{}, errors.Wrap(err, "[jwt Parse] not a JWT")
	}

	c := Claims{Subject: registered.Subject}
	if registered.ExpiresAt != nil {
		c.ExpiresAt = registered.ExpiresAt.Time
	}
	if registered.IssuedAt != nil {
		c.IssuedAt = registered.IssuedAt.Time
	}
	return c, nil
}

// Expiry returns the exp claim, false when the token is opaque or has none.
func Expiry(accessToken string) (time.Time, bool) {
	c, err := Parse(accessToken)
	if err != nil || c.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return c.ExpiresAt, true
}
