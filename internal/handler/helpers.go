package handler

import (
	"encoding/json"
	"net/http"

	"github.com/datagate-io/datagate/internal/model"
	"github.com/datagate-io/datagate/internal/proxyerr"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps any error onto the standard failure envelope. Untyped
// errors are classified by proxyerr.From first, so the envelope always
// carries a taxonomy code and the cause never leaks to the client.
func writeError(w http.ResponseWriter, err error) {
	pe := proxyerr.From(err)
	writeJSON(w, pe.HTTPStatus(), model.ErrorResponse{
		ErrorCode:   string(pe.Code),
		Message:     pe.Message,
		Details:     pe.Details,
		IsResumable: pe.Resumable(),
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryString extracts a string query parameter.
func queryString(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// extraParams collects query parameters other than the reserved ones into a
// generic map for parameterized queries.
func extraParams(r *http.Request, reserved ...string) map[string]interface{} {
	skip := make(map[string]bool, len(reserved))
	for _, k := range reserved {
		skip[k] = true
	}
	params := map[string]interface{}{}
	for k, vs := range r.URL.Query() {
		if skip[k] || len(vs) == 0 {
			continue
		}
		params[k] = vs[0]
	}
	if len(params) == 0 {
		return nil
	}
	return params
}
