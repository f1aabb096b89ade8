package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/users"
)

type SignupRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type Interest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// Me fetches the canonical profile. A non-empty accessToken is sent as the
// bearer explicitly, which is how a freshly issued token is used before it is persisted.
func (c *Client) Me(ctx context.Context, accessToken string) (*users.Record, error) {
	var rec users.Record
	if err := c.do(ctx, http.MethodGet, PathMe, accessToken, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	return c.Do(ctx, http.MethodPost, PathSignup, req, nil)
}

// ProviderCallback exchanges an external provider's opaque token for a token pair.
func (c *Client) ProviderCallback(ctx context.Context, provider, providerToken string) (token.Pair, error) {
	var pair token.Pair
	err := c.Do(ctx, http.MethodPost, fmt.Sprintf(PathProviderCallback, provider), map[string]string{"token": providerToken}, &pair)
	return pair, err
}

// UpdateMe sends only the fields set on u and returns the server's view of the user.
func (c *Client) UpdateMe(ctx context.Context, u users.Update) (*users.Record, error) {
	var rec users.Record
	if err := c.Do(ctx, http.MethodPatch, PathUserMe, u.Wire(), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) DeleteMe(ctx context.Context) error {
	return c.Do(ctx, http.MethodDelete, PathUserMe, nil, nil)
}

func (c *Client) Interests(ctx context.Context) ([]Interest, error) {
	var out []Interest
	if err := c.Do(ctx, http.MethodGet, PathInterests, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) AddInterest(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodPost, fmt.Sprintf(PathInterest, id), nil, nil)
}

func (c *Client) RemoveInterest(ctx context.Context, id string) error {
	return c.Do(ctx, http.MethodDelete, fmt.Sprintf(PathInterest, id), nil, nil)
}
