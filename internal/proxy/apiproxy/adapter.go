// Package apiproxy serves the generic-api connector family: the gateway
// relays a GET to the connector's upstream REST API and returns the JSON
// body inside the standard envelope.
package apiproxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/proxyerr"
)

// maxBodyBytes caps the upstream body read so one misbehaving API cannot
// exhaust gateway memory.
const maxBodyBytes = 16 << 20

// Adapter relays requests to upstream HTTP APIs.
type Adapter struct {
	client *http.Client
}

// New builds the adapter. A nil client gets a default with conservative
// transport timeouts; per-request deadlines come from the dispatch context.
func New(client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &Adapter{client: client}
}

func (a *Adapter) Type() model.ProxyType { return model.TypeGenericAPI }

// Execute relays one GET to the upstream API. The caller's query names the
// endpoint path; when absent, the connector's configured endpoint is used.
func (a *Adapter) Execute(ctx context.Context, req proxy.Request) (*proxy.Result, error) {
	if req.Config.BaseURL == "" {
		return nil, proxyerr.New(proxyerr.CodeValidationError, "connector has no base URL configured")
	}
	endpoint := req.Query
	if endpoint == "" {
		endpoint = req.Config.Endpoint
	}
	target := JoinURL(req.Config.BaseURL, endpoint)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.CodeValidationError, err, "upstream URL is not valid")
	}
	httpReq.Header.Set("Accept", "application/json")
	applyAuth(httpReq, req.Creds)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(err)
	}
	if resp.StatusCode >= 400 {
		return nil, upstreamError(resp.StatusCode)
	}

	var data interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			// Upstream claims JSON by contract; pass non-JSON through as text.
			data = string(body)
		}
	}

	return &proxy.Result{
		TargetKind: proxy.TargetEndpoint,
		Target:     target,
		Query:      endpoint,
		RowCount:   countRows(data),
		Data:       data,
	}, nil
}

// Probe issues the relay against the configured default endpoint and treats
// any well-formed HTTP answer below 500 as reachable.
func (a *Adapter) Probe(ctx context.Context, req proxy.Request) error {
	if req.Config.BaseURL == "" {
		return proxyerr.New(proxyerr.CodeValidationError, "connector has no base URL configured")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, JoinURL(req.Config.BaseURL, req.Config.Endpoint), nil)
	if err != nil {
		return proxyerr.Wrap(proxyerr.CodeValidationError, err, "upstream URL is not valid")
	}
	applyAuth(httpReq, req.Creds)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 500 {
		return upstreamError(resp.StatusCode)
	}
	return nil
}

// applyAuth attaches the connector's stored API credentials. A full header
// value wins over a bare key, which is sent as a bearer token.
func applyAuth(req *http.Request, creds model.Credentials) {
	switch {
	case creds.AuthHeader != "":
		req.Header.Set("Authorization", creds.AuthHeader)
	case creds.APIKey != "":
		req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}
}

// countRows reports list length for array bodies; scalar and object bodies
// count as one row, empty bodies as zero.
func countRows(data interface{}) int {
	switch v := data.(type) {
	case nil:
		return 0
	case []interface{}:
		return len(v)
	default:
		return 1
	}
}

func upstreamError(status int) *proxyerr.Error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return proxyerr.New(proxyerr.CodePermissionDenied, "upstream API refused the stored credentials (status %d)", status)
	case status == http.StatusNotFound:
		return proxyerr.New(proxyerr.CodeNotFound, "upstream endpoint not found")
	case status >= 500:
		return proxyerr.New(proxyerr.CodeStorageError, "upstream API failed with status %d", status)
	default:
		return proxyerr.New(proxyerr.CodeValidationError, "upstream API rejected the request with status %d", status)
	}
}

func classify(err error) *proxyerr.Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return proxyerr.Network(err, "upstream API timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return proxyerr.Network(err, "upstream API unreachable")
	}
	return proxyerr.Network(err, "upstream API unreachable")
}
