package model

import "time"

// ShareLink is a public, expiring alternative to a bearer token. Resolving
// a share ID grants read-only access to exactly the connector and resource
// the link was minted for; it can never widen into other type/resource
// combinations.
type ShareLink struct {
	ID          int64     `json:"id" db:"id"`
	ShareID     string    `json:"share_id" db:"share_id"` // opaque public identifier
	ConnectorID int64     `json:"connector_id" db:"connector_id"`
	Resource    string    `json:"resource" db:"resource"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	UseCount    int64     `json:"use_count" db:"use_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the link is past its expiry at the given instant.
func (l *ShareLink) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
