package memory

import (
	"context"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyStore)(nil)

// APIKeyStore implements auth.Repository.
type APIKeyStore struct {
	db *DB
}

// Add stores k keyed by its hash.
func (s *APIKeyStore) Add(k auth.APIKey) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.apiKeys[k.KeyHash] = k
}

// FindByHash looks up a key by its HMAC hash.
func (s *APIKeyStore) FindByHash(_ context.Context, hash string) (*auth.APIKey, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	k, ok := s.db.apiKeys[hash]
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, "api key not found")
	}
	return &k, nil
}
