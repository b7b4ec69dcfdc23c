package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/datagate-io/datagate/internal/auth"
	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/normalize"
	"github.com/datagate-io/datagate/internal/proxyerr"
	"github.com/datagate-io/datagate/internal/registry"
	"github.com/datagate-io/datagate/internal/vault"
)

// stubAdapter records the request it received and returns a canned result.
type stubAdapter struct {
	typ     model.ProxyType
	lastReq Request
	result  *Result
	err     error
}

func (s *stubAdapter) Type() model.ProxyType { return s.typ }

func (s *stubAdapter) Execute(ctx context.Context, req Request) (*Result, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &Result{
		TargetKind: TargetDatabase,
		Target:     req.Config.Database,
		Query:      req.Query,
		RowCount:   1,
		Data:       []map[string]interface{}{{"ok": true}},
	}, nil
}

func (s *stubAdapter) Probe(ctx context.Context, req Request) error { return s.err }

type dispatchEnv struct {
	store      *registry.Store
	vault      *vault.Vault
	auth       *auth.Service
	adapter    *stubAdapter
	dispatcher *Dispatcher
}

func newDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()

	store, err := registry.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	v, err := vault.New("dispatch-test-passphrase")
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	authSvc := auth.NewService(store, "test-jwt-secret")
	adapter := &stubAdapter{typ: model.TypeMySQL}
	set, err := NewSet(adapter)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	d := NewDispatcher(
		DispatcherConfig{ProxyHost: "gateway.example.com", ProxyPort: 8080,
			TypePorts: map[model.ProxyType]int{model.TypeMySQL: 3310}},
		store, v, authSvc, set,
		normalize.New("gateway.example.com", 8080, nil),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return &dispatchEnv{store: store, vault: v, auth: authSvc, adapter: adapter, dispatcher: d}
}

// seedConnector stores an encrypted MySQL connector and mints a token for it.
func (e *dispatchEnv) seedConnector(t *testing.T, name string, readOnly bool) (*model.Connector, string) {
	t.Helper()
	ctx := context.Background()

	cfgCipher, err := e.vault.EncryptConfig(model.ConnectionConfig{
		Host: "db.internal", Port: 3306, Database: "orders",
	})
	if err != nil {
		t.Fatalf("EncryptConfig: %v", err)
	}
	credsCipher, err := e.vault.EncryptCredentials(model.Credentials{
		Username: "reader", Password: "secret",
	})
	if err != nil {
		t.Fatalf("EncryptCredentials: %v", err)
	}

	conn := &model.Connector{
		Name:         name,
		Type:         model.TypeMySQL,
		Alias:        "orders",
		ConfigCipher: cfgCipher,
		CredsCipher:  credsCipher,
		ReadOnly:     readOnly,
		IsActive:     true,
	}
	if err := e.store.CreateConnector(ctx, conn); err != nil {
		t.Fatalf("CreateConnector: %v", err)
	}

	raw, err := auth.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	tok := &model.AccessToken{
		TokenHash:   auth.HashToken(raw),
		TokenPrefix: auth.TokenPrefix(raw),
		ConnectorID: conn.ID,
		IsActive:    true,
	}
	if err := e.store.CreateToken(ctx, tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return conn, raw
}

func wantCode(t *testing.T, err error, code proxyerr.Code) {
	t.Helper()
	var pe *proxyerr.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *proxyerr.Error, got %v", err)
	}
	if pe.Code != code {
		t.Fatalf("error code = %s, want %s (%v)", pe.Code, code, pe)
	}
}

func TestDispatchHappyPath(t *testing.T) {
	env := newDispatchEnv(t)
	_, token := env.seedConnector(t, "OrdersDB", false)

	resp, err := env.dispatcher.Dispatch(context.Background(), Input{
		ProxyType: model.TypeMySQL,
		Resource:  "OrdersDB",
		Token:     token,
		Query:     "SELECT * FROM orders LIMIT 5",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.Status != "success" || resp.ProxyType != model.TypeMySQL {
		t.Errorf("envelope header = %q/%q", resp.Status, resp.ProxyType)
	}
	if resp.Database != "orders" {
		t.Errorf("database = %q, want orders", resp.Database)
	}
	if resp.RowCount != 1 {
		t.Errorf("row_count = %d", resp.RowCount)
	}
	if resp.ConnectionInfo == nil || resp.ConnectionInfo.ProxyHost != "gateway.example.com" {
		t.Errorf("connection_info = %+v", resp.ConnectionInfo)
	}
	if resp.ConnectionInfo.ProxyPort != 3310 {
		t.Errorf("dedicated family port not reported: %d", resp.ConnectionInfo.ProxyPort)
	}

	// The adapter saw decrypted config and credentials.
	got := env.adapter.lastReq
	if got.Config.Host != "db.internal" || got.Creds.Username != "reader" {
		t.Errorf("adapter request not decrypted: %+v", got)
	}
	if got.Resource != "orders" {
		t.Errorf("sub-resource = %q, want connector alias", got.Resource)
	}
}

func TestDispatchValidationOrder(t *testing.T) {
	env := newDispatchEnv(t)
	_, token := env.seedConnector(t, "OrdersDB", false)
	ctx := context.Background()

	// Bad type first, even with no token at all.
	_, err := env.dispatcher.Dispatch(ctx, Input{ProxyType: "relational-oracle", Resource: "OrdersDB"})
	wantCode(t, err, proxyerr.CodeUnsupportedType)

	// "shared" routes elsewhere and is not a connector family.
	_, err = env.dispatcher.Dispatch(ctx, Input{ProxyType: model.TypeShared, Resource: "x", Token: token})
	wantCode(t, err, proxyerr.CodeUnsupportedType)

	// Token before resource: an unknown resource with a missing token
	// reports the token problem, not the resource.
	_, err = env.dispatcher.Dispatch(ctx, Input{ProxyType: model.TypeMySQL, Resource: "NoSuchDB"})
	wantCode(t, err, proxyerr.CodeMissingToken)

	// Valid token, unknown resource.
	_, err = env.dispatcher.Dispatch(ctx, Input{ProxyType: model.TypeMySQL, Resource: "NoSuchDB", Token: token})
	wantCode(t, err, proxyerr.CodeNotFound)
}

func TestDispatchTokenScopedToConnector(t *testing.T) {
	env := newDispatchEnv(t)
	env.seedConnector(t, "OrdersDB", false)
	_, otherToken := env.seedConnector(t, "OtherDB", false)

	// A token minted for OtherDB cannot read OrdersDB; the caller learns
	// only that the token is invalid.
	_, err := env.dispatcher.Dispatch(context.Background(), Input{
		ProxyType: model.TypeMySQL,
		Resource:  "OrdersDB",
		Token:     otherToken,
	})
	wantCode(t, err, proxyerr.CodeInvalidToken)
}

func TestDispatchTypeMismatchDoesNotLeak(t *testing.T) {
	env := newDispatchEnv(t)
	_, token := env.seedConnector(t, "OrdersDB", false)

	_, err := env.dispatcher.Dispatch(context.Background(), Input{
		ProxyType: model.TypePostgres,
		Resource:  "OrdersDB",
		Token:     token,
	})
	wantCode(t, err, proxyerr.CodeInvalidToken)
}

func TestDispatchAdapterFailurePassesThrough(t *testing.T) {
	env := newDispatchEnv(t)
	_, token := env.seedConnector(t, "OrdersDB", false)
	env.adapter.err = proxyerr.Network(errors.New("dial tcp: connection refused"), "backend unreachable")

	_, err := env.dispatcher.Dispatch(context.Background(), Input{
		ProxyType: model.TypeMySQL,
		Resource:  "OrdersDB",
		Token:     token,
	})
	wantCode(t, err, proxyerr.CodeNetworkError)

	var pe *proxyerr.Error
	errors.As(err, &pe)
	if !pe.Resumable() {
		t.Error("network failure should be resumable")
	}
}

func TestDispatchRewritesRowURLs(t *testing.T) {
	env := newDispatchEnv(t)
	_, token := env.seedConnector(t, "OrdersDB", false)
	env.adapter.result = &Result{
		TargetKind: TargetDatabase,
		Target:     "orders",
		Query:      "SELECT * FROM exports",
		RowCount:   1,
		Data: []map[string]interface{}{
			{"id": int64(7), "url": "http://minio.internal:9000/exports/7.csv"},
		},
	}
	// Rewriter built with 9000 as an internal port.
	env.dispatcher.rewriter = normalize.New("gateway.example.com", 8080, []int{9000})

	resp, err := env.dispatcher.Dispatch(context.Background(), Input{
		ProxyType: model.TypeMySQL,
		Resource:  "OrdersDB",
		Token:     token,
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	rows, ok := resp.Data.([]map[string]interface{})
	if !ok {
		t.Fatalf("data shape = %T", resp.Data)
	}
	if rows[0]["url"] != "http://gateway.example.com:8080/exports/7.csv" {
		t.Errorf("row url not rewritten: got %q", rows[0]["url"])
	}
}

func TestDispatchDefaultsQueryFromConnector(t *testing.T) {
	env := newDispatchEnv(t)
	conn, token := env.seedConnector(t, "OrdersDB", false)
	conn.DefaultQuery = "SELECT id FROM orders LIMIT 10"
	if err := env.store.UpdateConnector(context.Background(), conn); err != nil {
		t.Fatalf("UpdateConnector: %v", err)
	}

	if _, err := env.dispatcher.Dispatch(context.Background(), Input{
		ProxyType: model.TypeMySQL,
		Resource:  "OrdersDB",
		Token:     token,
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if env.adapter.lastReq.Query != "SELECT id FROM orders LIMIT 10" {
		t.Errorf("adapter query = %q, want connector default", env.adapter.lastReq.Query)
	}
}

func TestDispatchReadOnlyFlagReachesAdapter(t *testing.T) {
	env := newDispatchEnv(t)
	_, token := env.seedConnector(t, "OrdersDB", true)

	if _, err := env.dispatcher.Dispatch(context.Background(), Input{
		ProxyType: model.TypeMySQL,
		Resource:  "OrdersDB",
		Token:     token,
		Query:     "SELECT 1",
	}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !env.adapter.lastReq.ReadOnly {
		t.Error("read-only connector must dispatch a read-only request")
	}
}

func TestDispatchSharedForcesReadOnly(t *testing.T) {
	env := newDispatchEnv(t)
	conn, _ := env.seedConnector(t, "OrdersDB", false)
	ctx := context.Background()

	link := &model.ShareLink{
		ShareID:     auth.GenerateShareID(),
		ConnectorID: conn.ID,
		Resource:    "orders",
		ExpiresAt:   time.Now().Add(time.Hour),
		IsActive:    true,
	}
	if err := env.store.CreateShareLink(ctx, link); err != nil {
		t.Fatalf("CreateShareLink: %v", err)
	}

	resp, err := env.dispatcher.DispatchShared(ctx, link.ShareID, "", nil)
	if err != nil {
		t.Fatalf("DispatchShared: %v", err)
	}
	if resp.Status != "success" {
		t.Errorf("status = %q", resp.Status)
	}
	if !env.adapter.lastReq.ReadOnly {
		t.Error("share-link dispatch must be read-only even on a writable connector")
	}
	if env.adapter.lastReq.Resource != "orders" {
		t.Errorf("share resource = %q", env.adapter.lastReq.Resource)
	}
}

func TestDispatchSharedExpired(t *testing.T) {
	env := newDispatchEnv(t)
	conn, _ := env.seedConnector(t, "OrdersDB", false)
	ctx := context.Background()

	link := &model.ShareLink{
		ShareID:     auth.GenerateShareID(),
		ConnectorID: conn.ID,
		ExpiresAt:   time.Now().Add(-time.Minute),
		IsActive:    true,
	}
	if err := env.store.CreateShareLink(ctx, link); err != nil {
		t.Fatalf("CreateShareLink: %v", err)
	}

	_, err := env.dispatcher.DispatchShared(ctx, link.ShareID, "", nil)
	wantCode(t, err, proxyerr.CodeLinkExpired)

	_, err = env.dispatcher.DispatchShared(ctx, "does-not-exist", "", nil)
	wantCode(t, err, proxyerr.CodeNotFound)
}

func TestProbeRecordsStatus(t *testing.T) {
	env := newDispatchEnv(t)
	conn, _ := env.seedConnector(t, "OrdersDB", false)
	ctx := context.Background()

	if err := env.dispatcher.Probe(ctx, conn); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	got, err := env.store.GetConnector(ctx, conn.ID)
	if err != nil {
		t.Fatalf("GetConnector: %v", err)
	}
	if got.TestStatus != model.TestSuccess {
		t.Errorf("test status = %q, want %q", got.TestStatus, model.TestSuccess)
	}

	env.adapter.err = proxyerr.Network(errors.New("refused"), "backend unreachable")
	if err := env.dispatcher.Probe(ctx, conn); err == nil {
		t.Fatal("expected probe failure")
	}
	got, _ = env.store.GetConnector(ctx, conn.ID)
	if got.TestStatus != model.TestFailed {
		t.Errorf("test status = %q, want %q", got.TestStatus, model.TestFailed)
	}
}
