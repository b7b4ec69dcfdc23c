package proxy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/datagate-io/datagate/internal/auth"
	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/normalize"
	"github.com/datagate-io/datagate/internal/proxyerr"
	"github.com/datagate-io/datagate/internal/registry"
	"github.com/datagate-io/datagate/internal/vault"
)

// DispatcherConfig carries the gateway's externally visible address, used
// for connection_info metadata and per-family dedicated ports.
type DispatcherConfig struct {
	ProxyHost string
	ProxyPort int
	// TypePorts maps connector families to their dedicated listener ports,
	// when the deployment exposes them. Families absent here are reached
	// through the main listener.
	TypePorts map[model.ProxyType]int
}

// Dispatcher mediates one proxy request end to end: authorization,
// credential decryption, adapter execution, and URL normalization. It holds
// no per-request state; all dependencies are injected at startup.
type Dispatcher struct {
	cfg      DispatcherConfig
	store    *registry.Store
	vault    *vault.Vault
	auth     *auth.Service
	adapters *Set
	rewriter *normalize.Rewriter
	logger   *slog.Logger
}

// NewDispatcher wires the dispatcher from its collaborators.
func NewDispatcher(cfg DispatcherConfig, store *registry.Store, v *vault.Vault, authSvc *auth.Service, adapters *Set, rewriter *normalize.Rewriter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		vault:    v,
		auth:     authSvc,
		adapters: adapters,
		rewriter: rewriter,
		logger:   logger,
	}
}

// Input is one token-authorized dispatch request as parsed by the handler.
type Input struct {
	ProxyType model.ProxyType
	Resource  string // URL-decoded resource segment (may contain spaces)
	Token     string
	Query     string
	Params    map[string]interface{}
}

// Dispatch runs a token-authorized request. Validation order is fixed:
// proxy type, then token, then resource — so an unauthorized caller learns
// nothing about which resources exist.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) (*model.ProxyResponse, error) {
	if !in.ProxyType.IsConnectorFamily() {
		return nil, unsupportedType(in.ProxyType)
	}

	conn, tok, err := d.auth.ValidateToken(ctx, in.Token, in.ProxyType)
	if err != nil {
		return nil, err
	}

	target, err := d.store.GetConnectorByName(ctx, in.Resource)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, proxyerr.New(proxyerr.CodeNotFound, "unknown resource %q", in.Resource)
		}
		return nil, proxyerr.Wrap(proxyerr.CodeStorageError, err, "resource lookup failed")
	}

	// A token never reaches beyond the connector it was minted for.
	if target.ID != conn.ID {
		return nil, proxyerr.New(proxyerr.CodeInvalidToken, "invalid or expired token")
	}

	subResource := tok.Resource
	if subResource == "" {
		subResource = conn.Alias
	}

	return d.execute(ctx, conn, subResource, in.Query, in.Params, conn.ReadOnly)
}

// DispatchShared runs a share-link request. Access is always read-scoped to
// the connector and resource the link was minted for; the caller supplies
// at most a query, never a different target.
func (d *Dispatcher) DispatchShared(ctx context.Context, shareID, query string, params map[string]interface{}) (*model.ProxyResponse, error) {
	conn, link, err := d.auth.ResolveShare(ctx, shareID)
	if err != nil {
		return nil, err
	}

	subResource := link.Resource
	if subResource == "" {
		subResource = conn.Alias
	}

	return d.execute(ctx, conn, subResource, query, params, true)
}

// DispatchLocal serves trusted in-process callers such as the MCP server.
// There is no token to validate, but execution is always read-only so a
// local caller cannot widen access beyond what the proxy surface grants.
func (d *Dispatcher) DispatchLocal(ctx context.Context, connectorName, query string, params map[string]interface{}) (*model.ProxyResponse, error) {
	conn, err := d.store.GetConnectorByName(ctx, connectorName)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, proxyerr.New(proxyerr.CodeNotFound, "unknown connector %q", connectorName)
		}
		return nil, proxyerr.Wrap(proxyerr.CodeStorageError, err, "connector lookup failed")
	}
	if !conn.IsActive {
		return nil, proxyerr.New(proxyerr.CodeNotFound, "unknown connector %q", connectorName)
	}
	return d.execute(ctx, conn, conn.Alias, query, params, true)
}

// execute is the shared tail of both dispatch paths: decrypt, run the
// adapter under the connector's deadline, and normalize embedded URLs.
func (d *Dispatcher) execute(ctx context.Context, conn *model.Connector, resource, query string, params map[string]interface{}, readOnly bool) (*model.ProxyResponse, error) {
	req, err := d.buildRequest(conn, resource, query, params, readOnly)
	if err != nil {
		return nil, err
	}

	adapter, ok := d.adapters.For(conn.Type)
	if !ok {
		return nil, unsupportedType(conn.Type)
	}

	execCtx, cancel := context.WithTimeout(ctx, conn.Timeout())
	defer cancel()

	result, err := adapter.Execute(execCtx, req)
	if err != nil {
		pe := proxyerr.From(err)
		d.logger.Warn("dispatch failed",
			"proxy_type", conn.Type,
			"connector", conn.Name,
			"error_code", pe.Code,
			"error", pe.Error(),
		)
		return nil, pe
	}

	resp := &model.ProxyResponse{
		Status:    "success",
		ProxyType: conn.Type,
		Query:     result.Query,
		RowCount:  result.RowCount,
		Data:      d.rewriter.Rewrite(result.Data),
		ConnectionInfo: &model.ConnectionInfo{
			ProxyHost: d.cfg.ProxyHost,
			ProxyPort: d.portFor(conn.Type),
			Note:      "backend reached through the gateway; source credentials never leave the server",
		},
	}
	switch result.TargetKind {
	case TargetBucket:
		resp.Bucket = result.Target
	case TargetEndpoint:
		resp.Endpoint = result.Target
	default:
		resp.Database = result.Target
	}

	d.logger.Debug("dispatch ok",
		"proxy_type", conn.Type,
		"connector", conn.Name,
		"row_count", result.RowCount,
	)
	return resp, nil
}

// buildRequest decrypts the connector's stored secrets into an adapter
// request. Decryption failures are storage-class: the request is rejected,
// not retried.
func (d *Dispatcher) buildRequest(conn *model.Connector, resource, query string, params map[string]interface{}, readOnly bool) (Request, error) {
	cfg, err := d.vault.DecryptConfig(conn.ConfigCipher)
	if err != nil {
		return Request{}, proxyerr.Wrap(proxyerr.CodeStorageError, err, "connector configuration could not be decrypted")
	}
	creds, err := d.vault.DecryptCredentials(conn.CredsCipher)
	if err != nil {
		return Request{}, proxyerr.Wrap(proxyerr.CodeStorageError, err, "connector credentials could not be decrypted")
	}

	if query == "" {
		query = conn.DefaultQuery
	}
	return Request{
		Resource: resource,
		Query:    query,
		Params:   params,
		Config:   cfg,
		Creds:    creds,
		ReadOnly: readOnly,
	}, nil
}

// Probe runs a connectivity check against a connector and records the
// outcome on the record.
func (d *Dispatcher) Probe(ctx context.Context, conn *model.Connector) error {
	req, err := d.buildRequest(conn, conn.Alias, "", nil, true)
	if err != nil {
		return err
	}
	adapter, ok := d.adapters.For(conn.Type)
	if !ok {
		return unsupportedType(conn.Type)
	}

	probeCtx, cancel := context.WithTimeout(ctx, conn.Timeout())
	defer cancel()

	status := model.TestSuccess
	probeErr := adapter.Probe(probeCtx, req)
	if probeErr != nil {
		status = model.TestFailed
	}
	if err := d.store.SetTestStatus(ctx, conn.ID, status); err != nil {
		d.logger.Warn("failed to record test status", "connector", conn.Name, "error", err)
	}
	return probeErr
}

// unsupportedType builds the 400 failure listing the valid dispatch set.
func unsupportedType(t model.ProxyType) *proxyerr.Error {
	valid := make([]string, 0, len(model.DispatchTypes()))
	for _, v := range model.DispatchTypes() {
		valid = append(valid, string(v))
	}
	return proxyerr.New(proxyerr.CodeUnsupportedType, "unsupported proxy type %q", t).
		WithDetail("valid_types", valid)
}

// portFor returns the dedicated listener port for a family, falling back
// to the main proxy port.
func (d *Dispatcher) portFor(t model.ProxyType) int {
	if p, ok := d.cfg.TypePorts[t]; ok {
		return p
	}
	return d.cfg.ProxyPort
}
