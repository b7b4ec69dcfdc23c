package model

import "time"

// AccessToken is a bearer credential scoped to exactly one connector. The
// raw token is never stored; only a SHA-256 hash and a short prefix for
// identification are persisted.
type AccessToken struct {
	ID          int64      `json:"id" db:"id"`
	TokenHash   string     `json:"-" db:"token_hash"`
	TokenPrefix string     `json:"token_prefix" db:"token_prefix"` // first 12 chars for identification
	ConnectorID int64      `json:"connector_id" db:"connector_id"`
	Resource    string     `json:"resource,omitempty" db:"resource"` // optional restriction (one table, one prefix)
	Label       string     `json:"label" db:"label"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// Expired reports whether the token is past its expiry at the given instant.
// Tokens without an expiry never expire.
func (t *AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}
