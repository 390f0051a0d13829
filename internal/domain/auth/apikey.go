// Package auth carries the authenticated caller identity through request
// contexts and resolves API keys to identities.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Role gates admin-only operations.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CanAccess reports whether the identity may act on a resource owned by ownerID.
func (i Identity) CanAccess(ownerID string) bool {
	return i.IsAdmin() || i.UserID == ownerID
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext extracts the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// APIKey is a stored API key. Only the HMAC of the raw key is persisted.
type APIKey struct {
	ID      string
	KeyHash string
	Name    string
	UserID  string
	Role    Role
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
}

// HashKey computes the hex HMAC-SHA256 of a raw key with the given pepper.
func HashKey(pepper []byte, raw string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
