// Package auth resolves the two access paths into the gateway: opaque
// bearer tokens bound to one connector, and public expiring share links.
// It also issues the JWTs that protect the management API.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxyerr"
	"github.com/datagate-io/datagate/internal/registry"
)

const tokenPrefixLen = 12

// Service validates tokens and share links against the registry store.
type Service struct {
	store     *registry.Store
	jwtSecret []byte
}

// NewService creates an auth service bound to the registry store.
func NewService(store *registry.Store, jwtSecret string) *Service {
	return &Service{
		store:     store,
		jwtSecret: []byte(jwtSecret),
	}
}

// GenerateToken mints a raw access token: "dgt_" + 32 random bytes, hex
// encoded. Callers persist only the SHA-256 hash.
func GenerateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return "dgt_" + hex.EncodeToString(raw), nil
}

// HashToken returns the hex SHA-256 of a raw token. Also used for admin
// password hashes.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// TokenPrefix returns the short identification prefix stored alongside the
// hash so operators can match tokens without seeing the raw value.
func TokenPrefix(raw string) string {
	if len(raw) <= tokenPrefixLen {
		return raw
	}
	return raw[:tokenPrefixLen]
}

// ValidateToken resolves a raw bearer token to its connector, enforcing the
// expected proxy type. Every failure mode past "missing" maps to
// INVALID_TOKEN so a probing caller cannot distinguish unknown, revoked,
// expired, type-mismatched, or deactivated targets.
func (s *Service) ValidateToken(ctx context.Context, raw string, expectedType model.ProxyType) (*model.Connector, *model.AccessToken, error) {
	if raw == "" {
		return nil, nil, proxyerr.New(proxyerr.CodeMissingToken, "token query parameter is required")
	}

	tok, err := s.store.GetTokenByHash(ctx, HashToken(raw))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil, proxyerr.New(proxyerr.CodeInvalidToken, "invalid or expired token")
		}
		return nil, nil, proxyerr.Wrap(proxyerr.CodeStorageError, err, "token lookup failed")
	}

	if !tok.IsActive || tok.Expired(time.Now()) {
		return nil, nil, proxyerr.New(proxyerr.CodeInvalidToken, "invalid or expired token")
	}

	conn, err := s.store.GetConnector(ctx, tok.ConnectorID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, nil, proxyerr.New(proxyerr.CodeInvalidToken, "invalid or expired token")
		}
		return nil, nil, proxyerr.Wrap(proxyerr.CodeStorageError, err, "connector lookup failed")
	}

	if !conn.IsActive || conn.Type != expectedType {
		return nil, nil, proxyerr.New(proxyerr.CodeInvalidToken, "invalid or expired token")
	}

	// Stamp last-used off the request path; a failure here must not fail
	// the dispatch.
	go s.store.UpdateTokenLastUsed(context.Background(), tok.ID)

	return conn, tok, nil
}
