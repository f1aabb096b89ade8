// Package preferences persists the UI language and theme. They live next to
// the credential record but survive logout.
package preferences

import (
	"context"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/kvstore"
	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"

	DefaultTheme = ThemeSystem
)

func (t Theme) Valid() bool {
	switch t {
	case ThemeLight, ThemeDark, ThemeSystem:
		return true
	}
	return false
}

// Label is the human form, e.g. "Dark".
func (t Theme) Label() string {
	return cases.Title(language.English).String(string(t))
}

// Supported languages, the first one is the fallback.
var supported = []language.Tag{language.English, language.Spanish, language.Catalan}

var matcher = language.NewMatcher(supported)

// DefaultLanguage is used when nothing (or nothing usable) is stored.
var DefaultLanguage = supported[0].String()

type Preferences struct {
	store kvstore.Store
}

func New(store kvstore.Store) (*Preferences, error) {
	if store == nil {
		return nil, errors.New("[preferences New] store is required")
	}
	return &Preferences{store: store}, nil
}

// MatchLanguage maps any BCP 47 tag or Accept-Language value onto a
// supported language, e.g. "es-MX" -> "es", "fr" -> "en".
func MatchLanguage(tags ...string) string {
	_, idx := language.MatchStrings(matcher, tags...)
	return supported[idx].String()
}

// Language returns the stored language, DefaultLanguage when unset.
func (p *Preferences) Language(ctx context.Context) (string, error) {
	v, err := p.store.Get(ctx, kvstore.KeyLanguage)
	if errors.Is(err, apperrors.ErrNotFound) {
		return DefaultLanguage, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "[Language]")
	}
	return MatchLanguage(v), nil
}

// SetLanguage stores the closest supported language and returns it.
func (p *Preferences) SetLanguage(ctx context.Context, tag string) (string, error) {
	lang := MatchLanguage(tag)
	if err := p.store.Set(ctx, kvstore.KeyLanguage, lang); err != nil {
		return "", errors.Wrap(err, "[SetLanguage]")
	}
	return lang, nil
}

// Theme returns the stored theme, DefaultTheme when unset or unrecognised.
func (p *Preferences) Theme(ctx context.Context) (Theme, error) {
	v, err := p.store.Get(ctx, kvstore.KeyThemePreference)
	if errors.Is(err, apperrors.ErrNotFound) {
		return DefaultTheme, nil
	}
	if err != nil {
		return "", errors.Wrap(err, "[Theme]")
	}
	if t := Theme(v); t.Valid() {
		return t, nil
	}
	return DefaultTheme, nil
}

func (p *Preferences) SetTheme(ctx context.Context, t Theme) error {
	if !t.Valid() {
		return errors.Wrapf(apperrors.ErrInvalidPreference, "[SetTheme] theme %q", t)
	}
	return errors.Wrap(p.store.Set(ctx, kvstore.KeyThemePreference, string(t)), "[SetTheme]")
}
