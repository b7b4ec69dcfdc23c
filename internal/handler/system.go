package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/datagate-io/datagate/internal/auth"
	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/proxyerr"
	"github.com/datagate-io/datagate/internal/registry"
	"github.com/datagate-io/datagate/internal/vault"
)

// sessionTTL is how long an admin JWT stays valid.
const sessionTTL = 24 * time.Hour

// SystemHandler manages DataGate's own state: admin sessions, connectors,
// access tokens, and share links.
type SystemHandler struct {
	store      *registry.Store
	vault      *vault.Vault
	authSvc    *auth.Service
	dispatcher *proxy.Dispatcher
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(store *registry.Store, v *vault.Vault, authSvc *auth.Service, dispatcher *proxy.Dispatcher) *SystemHandler {
	return &SystemHandler{store: store, vault: v, authSvc: authSvc, dispatcher: dispatcher}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	AdminID   int64  `json:"admin_id"`
	Email     string `json:"email"`
}

// Login authenticates an admin and returns a JWT session token.
// POST /api/v1/system/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, proxyerr.Wrap(proxyerr.CodeValidationError, err, "request body is not valid JSON"))
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, proxyerr.New(proxyerr.CodeValidationError, "email and password are required"))
		return
	}

	admin, err := h.store.GetAdminByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, proxyerr.New(proxyerr.CodeInvalidToken, "invalid credentials"))
			return
		}
		writeError(w, err)
		return
	}
	if !admin.IsActive || auth.HashToken(req.Password) != admin.PasswordHash {
		writeError(w, proxyerr.New(proxyerr.CodeInvalidToken, "invalid credentials"))
		return
	}

	token, err := h.authSvc.IssueJWT(r.Context(), admin.ID, admin.Email, sessionTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = h.store.UpdateAdminLastLogin(r.Context(), admin.ID)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(sessionTTL.Seconds()),
		AdminID:   admin.ID,
		Email:     admin.Email,
	})
}

// Logout ends the session. JWTs are stateless, so this only tells the
// client to discard its token.
// DELETE /api/v1/system/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Connectors
// ---------------------------------------------------------------------------

// connectorRequest carries the connector definition including its secrets.
// The secrets are encrypted before they touch the registry and never appear
// in any response.
type connectorRequest struct {
	Name         string                  `json:"name"`
	Type         model.ProxyType         `json:"type"`
	Alias        string                  `json:"alias"`
	ReadOnly     bool                    `json:"read_only"`
	DefaultQuery string                  `json:"default_query"`
	TimeoutMs    int64                   `json:"timeout_ms"`
	Config       *model.ConnectionConfig `json:"config"`
	Credentials  *model.Credentials      `json:"credentials"`
}

// connectorView is the secret-free representation returned to admins.
type connectorView struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Type         model.ProxyType `json:"type"`
	Alias        string          `json:"alias,omitempty"`
	ReadOnly     bool            `json:"read_only"`
	IsActive     bool            `json:"is_active"`
	TestStatus   string          `json:"test_status"`
	DefaultQuery string          `json:"default_query,omitempty"`
	TimeoutMs    int64           `json:"timeout_ms,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func viewOf(c *model.Connector) connectorView {
	return connectorView{
		ID:           c.ID,
		Name:         c.Name,
		Type:         c.Type,
		Alias:        c.Alias,
		ReadOnly:     c.ReadOnly,
		IsActive:     c.IsActive,
		TestStatus:   c.TestStatus,
		DefaultQuery: c.DefaultQuery,
		TimeoutMs:    c.TimeoutMs,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

// ListConnectors returns all connectors without secrets.
// GET /api/v1/system/connector
func (h *SystemHandler) ListConnectors(w http.ResponseWriter, r *http.Request) {
	conns, err := h.store.ListConnectors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]connectorView, len(conns))
	for i := range conns {
		views[i] = viewOf(&conns[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connectors": views})
}

// CreateConnector registers a new connector, encrypting its config and
// credentials at rest.
// POST /api/v1/system/connector
func (h *SystemHandler) CreateConnector(w http.ResponseWriter, r *http.Request) {
	var req connectorRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, proxyerr.Wrap(proxyerr.CodeValidationError, err, "request body is not valid JSON"))
		return
	}
	if req.Name == "" {
		writeError(w, proxyerr.New(proxyerr.CodeValidationError, "connector name is required"))
		return
	}
	if !req.Type.IsConnectorFamily() {
		writeError(w, proxyerr.New(proxyerr.CodeUnsupportedType, "unsupported proxy type %q", req.Type))
		return
	}
	if req.Config == nil {
		writeError(w, proxyerr.New(proxyerr.CodeValidationError, "connector config is required"))
		return
	}
	if req.Credentials == nil {
		req.Credentials = &model.Credentials{}
	}

	cfgCipher, err := h.vault.EncryptConfig(*req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	credsCipher, err := h.vault.EncryptCredentials(*req.Credentials)
	if err != nil {
		writeError(w, err)
		return
	}

	conn := &model.Connector{
		Name:         req.Name,
		Type:         req.Type,
		Alias:        req.Alias,
		ConfigCipher: cfgCipher,
		CredsCipher:  credsCipher,
		ReadOnly:     req.ReadOnly,
		IsActive:     true,
		DefaultQuery: req.DefaultQuery,
		TimeoutMs:    req.TimeoutMs,
	}
	if err := h.store.CreateConnector(r.Context(), conn); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(conn))
}

// GetConnector returns one connector without secrets.
// GET /api/v1/system/connector/{connectorId}
func (h *SystemHandler) GetConnector(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.connectorFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conn))
}

// UpdateConnector changes a connector's settings and, when new config or
// credentials are supplied, re-encrypts them. The type is immutable.
// PUT /api/v1/system/connector/{connectorId}
func (h *SystemHandler) UpdateConnector(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.connectorFromPath(w, r)
	if !ok {
		return
	}
	var req connectorRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, proxyerr.Wrap(proxyerr.CodeValidationError, err, "request body is not valid JSON"))
		return
	}
	if req.Type != "" && req.Type != conn.Type {
		writeError(w, proxyerr.New(proxyerr.CodeValidationError, "connector type cannot be changed after creation"))
		return
	}

	if req.Name != "" {
		conn.Name = req.Name
	}
	conn.Alias = req.Alias
	conn.ReadOnly = req.ReadOnly
	conn.DefaultQuery = req.DefaultQuery
	conn.TimeoutMs = req.TimeoutMs
	if req.Config != nil {
		cipher, err := h.vault.EncryptConfig(*req.Config)
		if err != nil {
			writeError(w, err)
			return
		}
		conn.ConfigCipher = cipher
	}
	if req.Credentials != nil {
		cipher, err := h.vault.EncryptCredentials(*req.Credentials)
		if err != nil {
			writeError(w, err)
			return
		}
		conn.CredsCipher = cipher
	}

	if err := h.store.UpdateConnector(r.Context(), conn); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(conn))
}

// DeleteConnector removes a connector, or deactivates it when tokens or
// share links still reference it.
// DELETE /api/v1/system/connector/{connectorId}
func (h *SystemHandler) DeleteConnector(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.connectorFromPath(w, r)
	if !ok {
		return
	}
	err := h.store.DeleteConnector(r.Context(), conn.ID)
	if errors.Is(err, registry.ErrReferenced) {
		if err := h.store.DeactivateConnector(r.Context(), conn.ID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":     true,
			"deactivated": true,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// TestConnector runs a connectivity probe and records the outcome.
// POST /api/v1/system/connector/{connectorId}/test
func (h *SystemHandler) TestConnector(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.connectorFromPath(w, r)
	if !ok {
		return
	}
	if err := h.dispatcher.Probe(r.Context(), conn); err != nil {
		pe := proxyerr.From(err)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"test_status": model.TestFailed,
			"error_code":  string(pe.Code),
			"message":     pe.Message,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"test_status": model.TestSuccess})
}

func (h *SystemHandler) connectorFromPath(w http.ResponseWriter, r *http.Request) (*model.Connector, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "connectorId"), 10, 64)
	if err != nil {
		writeError(w, proxyerr.New(proxyerr.CodeValidationError, "connector id must be numeric"))
		return nil, false
	}
	conn, err := h.store.GetConnector(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, proxyerr.New(proxyerr.CodeNotFound, "connector %d does not exist", id))
			return nil, false
		}
		writeError(w, err)
		return nil, false
	}
	return conn, true
}

// ---------------------------------------------------------------------------
// Access tokens
// ---------------------------------------------------------------------------

type tokenRequest struct {
	ConnectorID int64  `json:"connector_id"`
	Resource    string `json:"resource"`
	Label       string `json:"label"`
	ExpiresIn   string `json:"expires_in"` // Go duration, e.g. "720h"; empty means no expiry
}

// tokenMintResponse carries the raw token. It is shown exactly once; only
// the hash is stored.
type tokenMintResponse struct {
	ID          int64      `json:"id"`
	Token       string     `json:"token"`
	TokenPrefix string     `json:"token_prefix"`
	ConnectorID int64      `json:"connector_id"`
	Resource    string     `json:"resource,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// CreateToken mints a proxy access token for a connector.
// POST /api/v1/system/token
func (h *SystemHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, proxyerr.Wrap(proxyerr.CodeValidationError, err, "request body is not valid JSON"))
		return
	}
	conn, err := h.store.GetConnector(r.Context(), req.ConnectorID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, proxyerr.New(proxyerr.CodeNotFound, "connector %d does not exist", req.ConnectorID))
			return
		}
		writeError(w, err)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, proxyerr.New(proxyerr.CodeValidationError, "expires_in must be a positive duration"))
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	raw, err := auth.GenerateToken()
	if err != nil {
		writeError(w, err)
		return
	}
	tok := &model.AccessToken{
		TokenHash:   auth.HashToken(raw),
		TokenPrefix: auth.TokenPrefix(raw),
		ConnectorID: conn.ID,
		Resource:    req.Resource,
		Label:       req.Label,
		IsActive:    true,
		ExpiresAt:   expiresAt,
	}
	if err := h.store.CreateToken(r.Context(), tok); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenMintResponse{
		ID:          tok.ID,
		Token:       raw,
		TokenPrefix: tok.TokenPrefix,
		ConnectorID: conn.ID,
		Resource:    tok.Resource,
		ExpiresAt:   expiresAt,
	})
}

// ListTokens returns token metadata for a connector. Raw tokens are never
// recoverable; only prefixes identify them.
// GET /api/v1/system/token?connector_id=N
func (h *SystemHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	connectorID, _ := strconv.ParseInt(queryString(r, "connector_id"), 10, 64)
	toks, err := h.store.ListTokens(r.Context(), connectorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tokens": toks})
}

// RevokeToken deactivates a token immediately.
// DELETE /api/v1/system/token/{tokenId}
func (h *SystemHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "tokenId"), 10, 64)
	if err != nil {
		writeError(w, proxyerr.New(proxyerr.CodeValidationError, "token id must be numeric"))
		return
	}
	if err := h.store.RevokeToken(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, proxyerr.New(proxyerr.CodeNotFound, "token %d does not exist", id))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ---------------------------------------------------------------------------
// Share links
// ---------------------------------------------------------------------------

type shareRequest struct {
	ConnectorID int64  `json:"connector_id"`
	Resource    string `json:"resource"`
	ExpiresIn   string `json:"expires_in"` // Go duration; defaults to 168h
}

type shareMintResponse struct {
	ShareID   string    `json:"share_id"`
	Path      string    `json:"path"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateShareLink mints a time-boxed anonymous share link for a connector.
// POST /api/v1/system/share
func (h *SystemHandler) CreateShareLink(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, proxyerr.Wrap(proxyerr.CodeValidationError, err, "request body is not valid JSON"))
		return
	}
	if _, err := h.store.GetConnector(r.Context(), req.ConnectorID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, proxyerr.New(proxyerr.CodeNotFound, "connector %d does not exist", req.ConnectorID))
			return
		}
		writeError(w, err)
		return
	}

	ttl := 168 * time.Hour
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			writeError(w, proxyerr.New(proxyerr.CodeValidationError, "expires_in must be a positive duration"))
			return
		}
		ttl = d
	}

	link := &model.ShareLink{
		ShareID:     auth.GenerateShareID(),
		ConnectorID: req.ConnectorID,
		Resource:    req.Resource,
		ExpiresAt:   time.Now().Add(ttl),
		IsActive:    true,
	}
	if err := h.store.CreateShareLink(r.Context(), link); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shareMintResponse{
		ShareID:   link.ShareID,
		Path:      "/shared/" + link.ShareID,
		ExpiresAt: link.ExpiresAt,
	})
}

// ListShareLinks returns all share links with their usage counters.
// GET /api/v1/system/share
func (h *SystemHandler) ListShareLinks(w http.ResponseWriter, r *http.Request) {
	links, err := h.store.ListShareLinks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"share_links": links})
}

// RevokeShareLink deactivates a share link; later visits see 410.
// DELETE /api/v1/system/share/{shareId}
func (h *SystemHandler) RevokeShareLink(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareId")
	if err := h.store.RevokeShareLink(r.Context(), shareID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, proxyerr.New(proxyerr.CodeNotFound, "share link does not exist"))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
