// Package storetest holds the behaviour every kvstore.Store must share.
package storetest

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/kvstore"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store returned by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) kvstore.Store) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, kvstore.KeyAuthToken)
		require.True(t, errors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("set and overwrite", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, kvstore.KeyLanguage, "en"))
		require.NoError(t, s.Set(ctx, kvstore.KeyLanguage, "ca"))
		v, err := s.Get(ctx, kvstore.KeyLanguage)
		require.NoError(t, err)
		require.Equal(t, "ca", v)
	})

	t.Run("set many then remove credential keys", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SetMany(ctx, map[string]string{
			kvstore.KeyAuthToken:    "T1",
			kvstore.KeyRefreshToken: "R1",
			kvstore.KeyUserData:     `{"id":"u1"}`,
			kvstore.KeyLanguage:     "es",
		}))

		v, err := s.Get(ctx, kvstore.KeyRefreshToken)
		require.NoError(t, err)
		require.Equal(t, "R1", v)

		require.NoError(t, s.Remove(ctx, kvstore.CredentialKeys...))
		for _, k := range kvstore.CredentialKeys {
			_, err := s.Get(ctx, k)
			require.True(t, errors.Is(err, apperrors.ErrNotFound), k)
		}

		v, err = s.Get(ctx, kvstore.KeyLanguage)
		require.NoError(t, err)
		require.Equal(t, "es", v)
	})

	t.Run("remove missing key", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Remove(ctx, "nothing-here"))
	})

	t.Run("clear", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, kvstore.KeyThemePreference, "dark"))
		require.NoError(t, s.Clear(ctx))
		_, err := s.Get(ctx, kvstore.KeyThemePreference)
		require.True(t, errors.Is(err, apperrors.ErrNotFound))
	})
}
