package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
)

const (
	getAPIKeyByHashSQL = `SELECT id, key_hash, name, user_id, role
		FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, user_id, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, user_id = EXCLUDED.user_id,
			role = EXCLUDED.role, active = TRUE`
)

var _ auth.Repository = (*APIKeyStore)(nil)

// APIKeyStore provides API key lookups backed by PostgreSQL.
type APIKeyStore struct {
	q Querier
}

// NewAPIKeyStore returns an APIKeyStore that runs on q.
func NewAPIKeyStore(q Querier) *APIKeyStore {
	return &APIKeyStore{q: q}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (s *APIKeyStore) FindByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	var (
		k    auth.APIKey
		role string
	)
	err := s.q.QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(&k.ID, &k.KeyHash, &k.Name, &k.UserID, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.New(apperr.KindUnauthorized, "api key not found")
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	k.Role = auth.Role(role)
	return &k, nil
}

// Upsert stores k, re-activating it when the hash already exists.
func (s *APIKeyStore) Upsert(ctx context.Context, k auth.APIKey) error {
	if _, err := s.q.Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, k.UserID, string(k.Role)); err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.Name, err)
	}
	return nil
}
