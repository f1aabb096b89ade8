package memstore

import (
	"context"
	"sync"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/kvstore"
	"github.com/patrickmn/go-cache"
)

var _ kvstore.Store = (*Store)(nil)

// Store keeps values in process memory. Nothing expires.
type Store struct {
	items *cache.Cache
	// lock makes multi-key writes visible all at once to readers
	lock sync.RWMutex
}

func New() *Store {
	return &Store{
		items: cache.New(cache.NoExpiration, 0),
	}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	v, ok := s.items.Get(key)
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return v.(string), nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.items.Set(key, value, cache.NoExpiration)
	return nil
}

func (s *Store) SetMany(_ context.Context, values map[string]string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for k, v := range values {
		s.items.Set(k, v, cache.NoExpiration)
	}
	return nil
}

func (s *Store) Remove(_ context.Context, keys ...string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, k := range keys {
		s.items.Delete(k)
	}
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.items.Flush()
	return nil
}

// Len reports the number of stored keys.
func (s *Store) Len() int {
	return s.items.ItemCount()
}
