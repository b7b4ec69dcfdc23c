package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxy"
	"github.com/datagate-io/datagate/internal/proxyerr"
)

// DispatchHandler serves the proxy surface: /{proxyType}/{resource} and
// /shared/{shareId}.
type DispatchHandler struct {
	dispatcher *proxy.Dispatcher
	// pinned restricts this handler to one connector family. Dedicated
	// per-family listeners use it; the main listener leaves it empty.
	pinned model.ProxyType
}

// NewDispatchHandler creates the handler for the main listener, serving
// every connector family.
func NewDispatchHandler(d *proxy.Dispatcher) *DispatchHandler {
	return &DispatchHandler{dispatcher: d}
}

// NewPinnedDispatchHandler creates a handler for a dedicated per-family
// listener. Requests for any other family are refused.
func NewPinnedDispatchHandler(d *proxy.Dispatcher, t model.ProxyType) *DispatchHandler {
	return &DispatchHandler{dispatcher: d, pinned: t}
}

// dispatchBody is the optional POST payload. Every field can also arrive as
// a query parameter; the body wins when both are present. "params" is kept
// as a short alias for "parameters"; the long form wins when both are sent.
type dispatchBody struct {
	Token      string                 `json:"token"`
	Query      string                 `json:"query"`
	Parameters map[string]interface{} `json:"parameters"`
	Params     map[string]interface{} `json:"params"`
}

func (b *dispatchBody) parameters() map[string]interface{} {
	if len(b.Parameters) > 0 {
		return b.Parameters
	}
	return b.Params
}

// Dispatch handles GET and POST /{proxyType}/{resource}.
func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	proxyType := model.ProxyType(chi.URLParam(r, "proxyType"))
	if h.pinned != "" && proxyType != h.pinned {
		writeError(w, proxyerr.New(proxyerr.CodeUnsupportedType,
			"this listener serves only %q", h.pinned))
		return
	}

	in := proxy.Input{
		ProxyType: proxyType,
		Resource:  chi.URLParam(r, "resource"),
		Token:     queryString(r, "token"),
		Query:     queryString(r, "query"),
		Params:    extraParams(r, "token", "query"),
	}

	if r.Method == http.MethodPost && r.Body != nil && r.ContentLength != 0 {
		var body dispatchBody
		if err := readJSON(r, &body); err != nil {
			writeError(w, proxyerr.Wrap(proxyerr.CodeValidationError, err, "request body is not valid JSON"))
			return
		}
		if body.Token != "" {
			in.Token = body.Token
		}
		if body.Query != "" {
			in.Query = body.Query
		}
		if p := body.parameters(); len(p) > 0 {
			in.Params = p
		}
	}

	resp, err := h.dispatcher.Dispatch(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// DispatchShared handles GET and POST /shared/{shareId}. Share links carry
// their own authorization; no token is read.
func (h *DispatchHandler) DispatchShared(w http.ResponseWriter, r *http.Request) {
	if h.pinned != "" {
		writeError(w, proxyerr.New(proxyerr.CodeUnsupportedType,
			"this listener serves only %q", h.pinned))
		return
	}

	shareID := chi.URLParam(r, "shareId")
	query := queryString(r, "query")
	params := extraParams(r, "query")

	if r.Method == http.MethodPost && r.Body != nil && r.ContentLength != 0 {
		var body dispatchBody
		if err := readJSON(r, &body); err != nil {
			writeError(w, proxyerr.Wrap(proxyerr.CodeValidationError, err, "request body is not valid JSON"))
			return
		}
		if body.Query != "" {
			query = body.Query
		}
		if p := body.parameters(); len(p) > 0 {
			params = p
		}
	}

	resp, err := h.dispatcher.DispatchShared(r.Context(), shareID, query, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
