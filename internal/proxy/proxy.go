// Package proxy defines the normalized request/result contract every
// backend adapter implements, and the dispatcher that drives one request
// through authorization, credential decryption, adapter execution, and
// response normalization.
package proxy

import (
	"context"
	"fmt"

	"github.com/datagate-io/datagate/internal/model"
)

// Target kinds name which envelope field an adapter's result fills.
const (
	TargetDatabase = "database"
	TargetBucket   = "bucket"
	TargetEndpoint = "endpoint"
)

// Request is the normalized request an adapter receives. Config and Creds
// are already decrypted; they live only for the duration of this call.
type Request struct {
	Resource string // table, collection, object prefix, or endpoint path
	Query    string // effective query, already defaulted by the dispatcher
	Params   map[string]interface{}
	Config   model.ConnectionConfig
	Creds    model.Credentials
	ReadOnly bool
}

// Result is the normalized adapter output before URL rewriting.
type Result struct {
	TargetKind string // TargetDatabase, TargetBucket, or TargetEndpoint
	Target     string // database/bucket/endpoint name for the envelope
	Query      string // query as executed (echoed to the caller)
	RowCount   int
	Data       interface{}
}

// Adapter translates the normalized contract into one backend family's
// native protocol. Execute must honor ctx cancellation and return typed
// proxyerr failures, never raw backend errors.
type Adapter interface {
	Type() model.ProxyType
	Execute(ctx context.Context, req Request) (*Result, error)
	// Probe checks connectivity with the given config/credentials. Used by
	// the connectivity test endpoint and the readiness handler.
	Probe(ctx context.Context, req Request) error
}

// Set is the closed collection of adapters, one per connector family.
// Construction fails on duplicates or non-family types, so the supported
// set is fixed in exactly one place.
type Set struct {
	adapters map[model.ProxyType]Adapter
}

// NewSet builds an adapter set from the given adapters.
func NewSet(adapters ...Adapter) (*Set, error) {
	s := &Set{adapters: make(map[model.ProxyType]Adapter, len(adapters))}
	for _, a := range adapters {
		t := a.Type()
		if !t.IsConnectorFamily() {
			return nil, fmt.Errorf("adapter type %q is not a connector family", t)
		}
		if _, dup := s.adapters[t]; dup {
			return nil, fmt.Errorf("duplicate adapter for type %q", t)
		}
		s.adapters[t] = a
	}
	return s, nil
}

// For returns the adapter serving a connector family.
func (s *Set) For(t model.ProxyType) (Adapter, bool) {
	a, ok := s.adapters[t]
	return a, ok
}

// Types returns the families this set can serve, for startup logging.
func (s *Set) Types() []model.ProxyType {
	types := make([]model.ProxyType, 0, len(s.adapters))
	for t := range s.adapters {
		types = append(types, t)
	}
	return types
}
