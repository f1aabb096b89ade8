package token

import (
	"golang.org/x/oauth2"
)

// Pair is the access/refresh token response returned by the login, refresh
// and provider callback endpoints.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
}

// FromOAuth2 converts a token obtained through golang.org/x/oauth2.
func FromOAuth2(t *oauth2.Token) Pair {
	if t == nil {
		return Pair{}
	}
	return Pair{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
	}
}

// Valid reports whether both halves of the pair are present.
func (p Pair) Valid() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}
