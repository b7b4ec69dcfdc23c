// Package registry persists the gateway's connector, token, share link, and
// admin records in SQLite. It is the only component that owns Connector
// rows; everything else reads them through this store.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/datagate-io/datagate/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTypeImmutable is returned when an update attempts to change a
	// connector's type after creation.
	ErrTypeImmutable = errors.New("connector type is immutable")
	// ErrReferenced is returned when a delete would orphan tokens or
	// share links. Referenced connectors are deactivated, never removed.
	ErrReferenced = errors.New("connector is referenced by tokens or share links")
)

// Store manages DataGate's internal state backed by SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new registry store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "datagate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate registry database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Connectors
// ---------------------------------------------------------------------------

// CreateConnector inserts a new connector record. Config and credentials on
// the record must already be vault ciphertext; the store never sees
// plaintext secrets. ID, CreatedAt, and UpdatedAt are populated on success.
func (s *Store) CreateConnector(ctx context.Context, c *model.Connector) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.TestStatus == "" {
		c.TestStatus = model.TestUntested
	}

	const q = `INSERT INTO connectors
		(name, type, alias, org_id, config_cipher, creds_cipher, read_only,
		 is_active, test_status, default_query, timeout_ms, created_at, updated_at)
		VALUES
		(:name, :type, :alias, :org_id, :config_cipher, :creds_cipher, :read_only,
		 :is_active, :test_status, :default_query, :timeout_ms, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, c)
	if err != nil {
		return fmt.Errorf("insert connector: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get connector id: %w", err)
	}
	c.ID = id
	return nil
}

// GetConnector returns a connector by ID.
func (s *Store) GetConnector(ctx context.Context, id int64) (*model.Connector, error) {
	var c model.Connector
	if err := s.db.GetContext(ctx, &c, "SELECT * FROM connectors WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connector: %w", err)
	}
	return &c, nil
}

// GetConnectorByName returns a connector by its unique name. The name is
// the resource segment of dispatch URLs, already URL-decoded by the router.
func (s *Store) GetConnectorByName(ctx context.Context, name string) (*model.Connector, error) {
	var c model.Connector
	if err := s.db.GetContext(ctx, &c, "SELECT * FROM connectors WHERE name = ?", name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connector by name: %w", err)
	}
	return &c, nil
}

// ListConnectors returns all connector records ordered by name.
func (s *Store) ListConnectors(ctx context.Context) ([]model.Connector, error) {
	var connectors []model.Connector
	if err := s.db.SelectContext(ctx, &connectors, "SELECT * FROM connectors ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list connectors: %w", err)
	}
	return connectors, nil
}

// UpdateConnector updates a connector record. The type column is immutable:
// an update carrying a different type fails with ErrTypeImmutable.
func (s *Store) UpdateConnector(ctx context.Context, c *model.Connector) error {
	existing, err := s.GetConnector(ctx, c.ID)
	if err != nil {
		return err
	}
	if existing.Type != c.Type {
		return ErrTypeImmutable
	}

	c.UpdatedAt = time.Now().UTC()
	const q = `UPDATE connectors SET
		name = :name, alias = :alias, org_id = :org_id,
		config_cipher = :config_cipher, creds_cipher = :creds_cipher,
		read_only = :read_only, is_active = :is_active, test_status = :test_status,
		default_query = :default_query, timeout_ms = :timeout_ms, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, c)
	if err != nil {
		return fmt.Errorf("update connector: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update connector rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTestStatus records the outcome of a connectivity probe.
func (s *Store) SetTestStatus(ctx context.Context, id int64, status string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE connectors SET test_status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set test status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateConnector soft-deletes a connector. Connector rows are never
// hard-deleted while tokens or share links reference them.
func (s *Store) DeactivateConnector(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE connectors SET is_active = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivate connector: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConnector hard-deletes a connector only when nothing references it.
func (s *Store) DeleteConnector(ctx context.Context, id int64) error {
	var refs int
	err := s.db.GetContext(ctx, &refs, `SELECT
		(SELECT COUNT(*) FROM access_tokens WHERE connector_id = ?) +
		(SELECT COUNT(*) FROM share_links WHERE connector_id = ?)`, id, id)
	if err != nil {
		return fmt.Errorf("count connector references: %w", err)
	}
	if refs > 0 {
		return ErrReferenced
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM connectors WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete connector: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Access tokens
// ---------------------------------------------------------------------------

// CreateToken inserts a new access token record. TokenHash must be the
// SHA-256 of the raw token; the raw value is never persisted.
func (s *Store) CreateToken(ctx context.Context, tok *model.AccessToken) error {
	tok.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO access_tokens
		(token_hash, token_prefix, connector_id, resource, label, is_active, expires_at, created_at)
		VALUES
		(:token_hash, :token_prefix, :connector_id, :resource, :label, :is_active, :expires_at, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, tok)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get token id: %w", err)
	}
	tok.ID = id
	return nil
}

// GetTokenByHash returns a token record by the SHA-256 hash of its raw value.
func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*model.AccessToken, error) {
	var tok model.AccessToken
	if err := s.db.GetContext(ctx, &tok, "SELECT * FROM access_tokens WHERE token_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token by hash: %w", err)
	}
	return &tok, nil
}

// ListTokens returns all token records for a connector (all when id is 0).
func (s *Store) ListTokens(ctx context.Context, connectorID int64) ([]model.AccessToken, error) {
	var tokens []model.AccessToken
	var err error
	if connectorID > 0 {
		err = s.db.SelectContext(ctx, &tokens,
			"SELECT * FROM access_tokens WHERE connector_id = ? ORDER BY created_at DESC", connectorID)
	} else {
		err = s.db.SelectContext(ctx, &tokens, "SELECT * FROM access_tokens ORDER BY created_at DESC")
	}
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// RevokeToken deactivates a token by ID.
func (s *Store) RevokeToken(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "UPDATE access_tokens SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTokenLastUsed stamps a token's last-used time. Called fire-and-forget
// from the validator; failures are swallowed by the caller.
func (s *Store) UpdateTokenLastUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE access_tokens SET last_used = ? WHERE id = ?", time.Now().UTC(), id)
	return err
}

// ---------------------------------------------------------------------------
// Share links
// ---------------------------------------------------------------------------

// CreateShareLink inserts a new share link record.
func (s *Store) CreateShareLink(ctx context.Context, link *model.ShareLink) error {
	link.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO share_links
		(share_id, connector_id, resource, expires_at, is_active, use_count, created_at)
		VALUES
		(:share_id, :connector_id, :resource, :expires_at, :is_active, :use_count, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, link)
	if err != nil {
		return fmt.Errorf("insert share link: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get share link id: %w", err)
	}
	link.ID = id
	return nil
}

// GetShareLink returns a share link by its public identifier.
func (s *Store) GetShareLink(ctx context.Context, shareID string) (*model.ShareLink, error) {
	var link model.ShareLink
	if err := s.db.GetContext(ctx, &link, "SELECT * FROM share_links WHERE share_id = ?", shareID); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get share link: %w", err)
	}
	return &link, nil
}

// ListShareLinks returns all share link records ordered by creation time.
func (s *Store) ListShareLinks(ctx context.Context) ([]model.ShareLink, error) {
	var links []model.ShareLink
	if err := s.db.SelectContext(ctx, &links, "SELECT * FROM share_links ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	return links, nil
}

// RevokeShareLink deactivates a share link by its public identifier.
func (s *Store) RevokeShareLink(ctx context.Context, shareID string) error {
	result, err := s.db.ExecContext(ctx, "UPDATE share_links SET is_active = 0 WHERE share_id = ?", shareID)
	if err != nil {
		return fmt.Errorf("revoke share link: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementShareUse bumps a share link's usage counter. Called fire-and-forget
// from the resolver; failures are swallowed by the caller.
func (s *Store) IncrementShareUse(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE share_links SET use_count = use_count + 1 WHERE id = ?", id)
	return err
}

// ---------------------------------------------------------------------------
// Admins
// ---------------------------------------------------------------------------

// CreateAdmin inserts a new admin account.
func (s *Store) CreateAdmin(ctx context.Context, admin *model.Admin) error {
	admin.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO admins (email, password_hash, is_active, created_at)
		VALUES (:email, :password_hash, :is_active, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, admin)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get admin id: %w", err)
	}
	admin.ID = id
	return nil
}

// GetAdminByEmail returns an admin account by email.
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*model.Admin, error) {
	var admin model.Admin
	if err := s.db.GetContext(ctx, &admin, "SELECT * FROM admins WHERE email = ?", email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get admin by email: %w", err)
	}
	return &admin, nil
}

// ListAdmins returns every admin account, newest first.
func (s *Store) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	var admins []model.Admin
	if err := s.db.SelectContext(ctx, &admins, "SELECT * FROM admins ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

// HasAnyAdmin reports whether at least one admin account exists.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM admins"); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// UpdateAdminLastLogin stamps an admin's last login time.
func (s *Store) UpdateAdminLastLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE admins SET last_login_at = ? WHERE id = ?", time.Now().UTC(), id)
	return err
}
