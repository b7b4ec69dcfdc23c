// Package openapi generates the OpenAPI description of DataGate's proxy
// surface, served at /openapi.json.
package openapi

import (
	"encoding/json"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/datagate-io/datagate/internal/model"
)

// Handler serves the generated spec.
type Handler struct {
	doc *openapi3.T
}

// NewHandler generates the spec once; it is static for a given build.
func NewHandler() *Handler {
	return &Handler{doc: GenerateSpec()}
}

// ServeSpec writes the OpenAPI document as JSON.
// GET /openapi.json
func (h *Handler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.doc)
}

// GenerateSpec builds the OpenAPI 3.1 document for the proxy surface: the
// typed dispatch routes and the share-link route, with the success and
// failure envelopes.
func GenerateSpec() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "DataGate API",
			Description: "Unified proxy gateway for relational, document, object-storage, and HTTP API backends.",
			Version:     "1.0.0",
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{
		"ProxyResponse": &openapi3.SchemaRef{Value: proxyResponseSchema()},
		"ErrorResponse": &openapi3.SchemaRef{Value: errorResponseSchema()},
	}
	doc.Components = &components

	doc.Paths = openapi3.NewPaths()
	doc.Paths.Set("/healthz", probePathItem("Liveness probe."))
	doc.Paths.Set("/readyz", probePathItem("Readiness probe with per-connector test status."))
	doc.Paths.Set("/info", probePathItem("Gateway metadata: version, dispatchable families, external address."))
	doc.Paths.Set("/{proxyType}/{resource}", dispatchPathItem())
	doc.Paths.Set("/shared/{shareId}", sharedPathItem())

	return doc
}

func probePathItem(desc string) *openapi3.PathItem {
	responses := openapi3.NewResponses()
	ok := "JSON status document"
	responses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &ok,
			Content: openapi3.Content{
				"application/json": &openapi3.MediaType{
					Schema: &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
				},
			},
		},
	})
	return &openapi3.PathItem{
		Get: &openapi3.Operation{Description: desc, Responses: responses},
	}
}

func proxyResponseSchema() *openapi3.Schema {
	return &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"status":     strSchema(),
			"proxy_type": strSchema(),
			"database":   strSchema(),
			"bucket":     strSchema(),
			"endpoint":   strSchema(),
			"query":      strSchema(),
			"row_count":  &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
			"data":       &openapi3.SchemaRef{Value: &openapi3.Schema{}},
			"connection_info": &openapi3.SchemaRef{Value: &openapi3.Schema{
				Type: &openapi3.Types{"object"},
				Properties: openapi3.Schemas{
					"proxy_host": strSchema(),
					"proxy_port": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}},
					"note":       strSchema(),
				},
			}},
		},
	}
}

func errorResponseSchema() *openapi3.Schema {
	return &openapi3.Schema{
		Type: &openapi3.Types{"object"},
		Properties: openapi3.Schemas{
			"error_code":   strSchema(),
			"message":      strSchema(),
			"details":      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
			"is_resumable": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}},
		},
	}
}

func dispatchPathItem() *openapi3.PathItem {
	params := openapi3.Parameters{
		pathParam("proxyType", "Connector family", enumValues()),
		pathParam("resource", "Connector name", nil),
		queryParam("token", "Proxy access token"),
		queryParam("query", "Backend query (SQL, JSON filter, prefix, or endpoint path)"),
	}
	op := func(desc string) *openapi3.Operation {
		return &openapi3.Operation{
			Description: desc,
			Parameters:  params,
			Responses:   dispatchResponses(),
		}
	}
	return &openapi3.PathItem{
		Get:  op("Execute a read against the named connector."),
		Post: op("Execute a query against the named connector; query and parameters may travel in the JSON body."),
	}
}

func sharedPathItem() *openapi3.PathItem {
	params := openapi3.Parameters{
		pathParam("shareId", "Public share link identifier", nil),
		queryParam("query", "Optional query narrowing the shared resource"),
	}
	op := &openapi3.Operation{
		Description: "Resolve a share link and execute a read-only request against its connector.",
		Parameters:  params,
		Responses:   dispatchResponses(),
	}
	return &openapi3.PathItem{Get: op, Post: op}
}

func dispatchResponses() *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set("200", jsonResponse("Success envelope", "#/components/schemas/ProxyResponse"))
	for _, code := range []string{"400", "401", "403", "404", "410", "500", "503"} {
		responses.Set(code, jsonResponse("Failure envelope", "#/components/schemas/ErrorResponse"))
	}
	return responses
}

func jsonResponse(desc, ref string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content: openapi3.Content{
				"application/json": &openapi3.MediaType{
					Schema: &openapi3.SchemaRef{Ref: ref},
				},
			},
		},
	}
}

func pathParam(name, desc string, enum []interface{}) *openapi3.ParameterRef {
	schema := &openapi3.Schema{Type: &openapi3.Types{"string"}}
	if enum != nil {
		schema.Enum = enum
	}
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "path",
			Required:    true,
			Description: desc,
			Schema:      &openapi3.SchemaRef{Value: schema},
		},
	}
}

func queryParam(name, desc string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "query",
			Description: desc,
			Schema:      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
		},
	}
}

func strSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
}

func enumValues() []interface{} {
	types := model.ConnectorTypes()
	out := make([]interface{}, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
