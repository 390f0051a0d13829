package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/auth"
)

var errUnauthorized = apperr.New(apperr.KindUnauthorized, "unauthorized")

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API
// keys passed in the api_key header or as a bearer token.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Identify resolves a raw API key to the identity it belongs to.
func (s *SecurityHandler) Identify(ctx context.Context, raw string) (auth.Identity, error) {
	if raw == "" {
		return auth.Identity{}, errUnauthorized
	}
	hexHash := auth.HashKey(s.pepper, raw)

	info, err := s.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return auth.Identity{}, errors.Wrap(err, "find api key")
		}
		return auth.Identity{}, errUnauthorized
	}

	// The stored row must carry exactly the hash we computed.
	computed, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
		return auth.Identity{}, errUnauthorized
	}
	if !info.Role.Valid() || info.UserID == "" {
		return auth.Identity{}, errUnauthorized
	}
	return auth.Identity{UserID: info.UserID, Role: info.Role}, nil
}

// rawKey extracts the API key from the api_key header or an
// "Authorization: Bearer" header.
func rawKey(r *http.Request) string {
	if k := r.Header.Get("api_key"); k != "" {
		return k
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// Authenticate rejects requests without a valid key and stores the caller
// identity in the request context.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Identify(r.Context(), rawKey(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin allows only admin identities through. It must run after
// Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, r, errUnauthorized)
			return
		}
		if !id.IsAdmin() {
			writeError(w, r, apperr.New(apperr.KindForbidden, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identity returns the caller set by Authenticate.
func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}
