package users

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/utils"
)

// RoleType is the backend role of an account
type RoleType string

const (
	RoleBasic RoleType = "Basic" // Regular member
	RoleAdmin RoleType = "Admin" // Can use the admin panel
)

// Record is the user object exactly as the backend sends it (snake_case).
// Optional fields are pointers so that "absent" and "zero" stay distinguishable.
type Record struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        RoleType   `json:"role"`
	FirstName   *string    `json:"first_name,omitempty"`
	LastName    *string    `json:"last_name,omitempty"`
	AvatarURL   *string    `json:"avatar_url,omitempty"`
	Bio         *string    `json:"bio,omitempty"`
	IsVerified  *bool      `json:"is_verified,omitempty"`
	YearOfStudy *int       `json:"year_of_study,omitempty"`
	University  *string    `json:"university,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// Snapshot is the locally cached view of the signed in user. It is what gets
// persisted under user_data and broadcast to subscribers.
type Snapshot struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        RoleType   `json:"role"`
	FirstName   *string    `json:"firstName,omitempty"`
	LastName    *string    `json:"lastName,omitempty"`
	AvatarURL   *string    `json:"avatarUrl,omitempty"`
	Bio         *string    `json:"bio,omitempty"`
	IsVerified  *bool      `json:"isVerified,omitempty"`
	YearOfStudy *int       `json:"yearOfStudy,omitempty"`
	University  *string    `json:"university,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// FromRecord maps the wire user into a Snapshot. Missing optional fields stay nil.
func FromRecord(r Record) *Snapshot {
	return &Snapshot{
		ID:          r.ID,
		Username:    r.Username,
		Email:       r.Email,
		Role:        r.Role,
		FirstName:   copyPtr(r.FirstName),
		LastName:    copyPtr(r.LastName),
		AvatarURL:   copyPtr(r.AvatarURL),
		Bio:         copyPtr(r.Bio),
		IsVerified:  copyPtr(r.IsVerified),
		YearOfStudy: copyPtr(r.YearOfStudy),
		University:  copyPtr(r.University),
		CreatedAt:   copyPtr(r.CreatedAt),
	}
}

// Clone returns a deep copy so callers can't mutate shared session state.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.FirstName = copyPtr(s.FirstName)
	c.LastName = copyPtr(s.LastName)
	c.AvatarURL = copyPtr(s.AvatarURL)
	c.Bio = copyPtr(s.Bio)
	c.IsVerified = copyPtr(s.IsVerified)
	c.YearOfStudy = copyPtr(s.YearOfStudy)
	c.University = copyPtr(s.University)
	c.CreatedAt = copyPtr(s.CreatedAt)
	return &c
}

func (s *Snapshot) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}

// DisplayName prefers the full name and falls back to the username.
func (s *Snapshot) DisplayName() string {
	if s == nil {
		return ""
	}
	name := strings.TrimSpace(utils.Value(s.FirstName) + " " + utils.Value(s.LastName))
	if name != "" {
		return name
	}
	return s.Username
}

// Update is a partial profile change. Only non-nil fields are sent, so omitted
// fields are left untouched server side.
type Update struct {
	Username    *string
	FirstName   *string
	LastName    *string
	AvatarURL   *string
	Bio         *string
	YearOfStudy *int
	University  *string
}

// Wire returns the snake_case body for the update.
func (u Update) Wire() map[string]any {
	body := make(map[string]any)
	if u.Username != nil {
		body["username"] = *u.Username
	}
	if u.FirstName != nil {
		body["first_name"] = *u.FirstName
	}
	if u.LastName != nil {
		body["last_name"] = *u.LastName
	}
	if u.AvatarURL != nil {
		body["avatar_url"] = *u.AvatarURL
	}
	if u.Bio != nil {
		body["bio"] = *u.Bio
	}
	if u.YearOfStudy != nil {
		body["year_of_study"] = *u.YearOfStudy
	}
	if u.University != nil {
		body["university"] = *u.University
	}
	return body
}

// IsEmpty reports whether the update carries no fields.
func (u Update) IsEmpty() bool {
	return len(u.Wire()) == 0
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return utils.Ptr(*p)
}
