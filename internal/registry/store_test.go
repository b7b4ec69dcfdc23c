package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/datagate-io/datagate/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestConnector(t *testing.T, s *Store, name string, typ model.ProxyType) *model.Connector {
	t.Helper()
	c := &model.Connector{
		Name:         name,
		Type:         typ,
		Alias:        "ds_" + name,
		OrgID:        "org-1",
		ConfigCipher: "ciphertext-config",
		CredsCipher:  "ciphertext-creds",
		ReadOnly:     true,
		IsActive:     true,
	}
	if err := s.CreateConnector(context.Background(), c); err != nil {
		t.Fatalf("CreateConnector: %v", err)
	}
	return c
}

func TestConnectorCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestConnector(t, s, "OrdersDB", model.TypeMySQL)
	if c.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}
	if c.TestStatus != model.TestUntested {
		t.Errorf("new connector test status = %q, want %q", c.TestStatus, model.TestUntested)
	}

	got, err := s.GetConnector(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConnector: %v", err)
	}
	if got.Name != "OrdersDB" || got.Type != model.TypeMySQL {
		t.Errorf("got %q/%q, want OrdersDB/%q", got.Name, got.Type, model.TypeMySQL)
	}

	got2, err := s.GetConnectorByName(ctx, "OrdersDB")
	if err != nil {
		t.Fatalf("GetConnectorByName: %v", err)
	}
	if got2.ID != c.ID {
		t.Errorf("got ID %d, want %d", got2.ID, c.ID)
	}

	list, err := s.ListConnectors(ctx)
	if err != nil {
		t.Fatalf("ListConnectors: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d connectors, want 1", len(list))
	}

	c.DefaultQuery = "SELECT * FROM orders LIMIT 100"
	if err := s.UpdateConnector(ctx, c); err != nil {
		t.Fatalf("UpdateConnector: %v", err)
	}
	got3, _ := s.GetConnector(ctx, c.ID)
	if got3.DefaultQuery != c.DefaultQuery {
		t.Errorf("got default query %q, want %q", got3.DefaultQuery, c.DefaultQuery)
	}

	if err := s.DeleteConnector(ctx, c.ID); err != nil {
		t.Fatalf("DeleteConnector: %v", err)
	}
	if _, err := s.GetConnector(ctx, c.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConnectorTypeImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestConnector(t, s, "Events", model.TypeClickHouse)
	c.Type = model.TypePostgres
	if err := s.UpdateConnector(ctx, c); !errors.Is(err, ErrTypeImmutable) {
		t.Fatalf("expected ErrTypeImmutable, got %v", err)
	}
}

func TestConnectorSoftDeactivation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestConnector(t, s, "Reports", model.TypeObjectS3)
	if err := s.DeactivateConnector(ctx, c.ID); err != nil {
		t.Fatalf("DeactivateConnector: %v", err)
	}
	got, err := s.GetConnector(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConnector after deactivate: %v", err)
	}
	if got.IsActive {
		t.Error("connector still active after deactivation")
	}
}

func TestDeleteConnectorRefusedWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestConnector(t, s, "OrdersDB", model.TypeMySQL)
	tok := &model.AccessToken{
		TokenHash:   "hash-1",
		TokenPrefix: "dgt_abcdef",
		ConnectorID: c.ID,
		IsActive:    true,
	}
	if err := s.CreateToken(ctx, tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if err := s.DeleteConnector(ctx, c.ID); !errors.Is(err, ErrReferenced) {
		t.Fatalf("expected ErrReferenced, got %v", err)
	}
	// Soft deactivation still works.
	if err := s.DeactivateConnector(ctx, c.ID); err != nil {
		t.Fatalf("DeactivateConnector: %v", err)
	}
}

func TestTestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestConnector(t, s, "Api", model.TypeGenericAPI)
	if err := s.SetTestStatus(ctx, c.ID, model.TestSuccess); err != nil {
		t.Fatalf("SetTestStatus: %v", err)
	}
	got, _ := s.GetConnector(ctx, c.ID)
	if got.TestStatus != model.TestSuccess {
		t.Errorf("test status = %q, want %q", got.TestStatus, model.TestSuccess)
	}
	if err := s.SetTestStatus(ctx, 9999, model.TestFailed); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown connector, got %v", err)
	}
}

func TestTokenLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestConnector(t, s, "OrdersDB", model.TypeMySQL)
	expiry := time.Now().Add(time.Hour).UTC()
	tok := &model.AccessToken{
		TokenHash:   "deadbeef",
		TokenPrefix: "dgt_deadbe",
		ConnectorID: c.ID,
		Resource:    "orders",
		Label:       "ci token",
		IsActive:    true,
		ExpiresAt:   &expiry,
	}
	if err := s.CreateToken(ctx, tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	got, err := s.GetTokenByHash(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("GetTokenByHash: %v", err)
	}
	if got.ConnectorID != c.ID || got.Resource != "orders" {
		t.Errorf("token fields wrong: %+v", got)
	}

	if err := s.UpdateTokenLastUsed(ctx, got.ID); err != nil {
		t.Fatalf("UpdateTokenLastUsed: %v", err)
	}
	got, _ = s.GetTokenByHash(ctx, "deadbeef")
	if got.LastUsed == nil {
		t.Error("last_used not stamped")
	}

	if err := s.RevokeToken(ctx, got.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	got, _ = s.GetTokenByHash(ctx, "deadbeef")
	if got.IsActive {
		t.Error("token still active after revoke")
	}

	if _, err := s.GetTokenByHash(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestShareLinkLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := newTestConnector(t, s, "OrdersDB", model.TypeMySQL)
	link := &model.ShareLink{
		ShareID:     "abc123",
		ConnectorID: c.ID,
		Resource:    "orders",
		ExpiresAt:   time.Now().Add(24 * time.Hour).UTC(),
		IsActive:    true,
	}
	if err := s.CreateShareLink(ctx, link); err != nil {
		t.Fatalf("CreateShareLink: %v", err)
	}

	got, err := s.GetShareLink(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetShareLink: %v", err)
	}
	if got.UseCount != 0 {
		t.Errorf("new link use count = %d, want 0", got.UseCount)
	}

	if err := s.IncrementShareUse(ctx, got.ID); err != nil {
		t.Fatalf("IncrementShareUse: %v", err)
	}
	if err := s.IncrementShareUse(ctx, got.ID); err != nil {
		t.Fatalf("IncrementShareUse: %v", err)
	}
	got, _ = s.GetShareLink(ctx, "abc123")
	if got.UseCount != 2 {
		t.Errorf("use count = %d, want 2", got.UseCount)
	}

	if err := s.RevokeShareLink(ctx, "abc123"); err != nil {
		t.Fatalf("RevokeShareLink: %v", err)
	}
	got, _ = s.GetShareLink(ctx, "abc123")
	if got.IsActive {
		t.Error("link still active after revoke")
	}

	if _, err := s.GetShareLink(ctx, "never-existed"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAdminAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatalf("HasAnyAdmin: %v", err)
	}
	if has {
		t.Fatal("fresh store reports an admin")
	}

	admin := &model.Admin{Email: "ops@example.com", PasswordHash: "hash", IsActive: true}
	if err := s.CreateAdmin(ctx, admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	got, err := s.GetAdminByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("GetAdminByEmail: %v", err)
	}
	if got.ID != admin.ID {
		t.Errorf("got ID %d, want %d", got.ID, admin.ID)
	}

	has, _ = s.HasAnyAdmin(ctx)
	if !has {
		t.Error("HasAnyAdmin false after create")
	}
}
