// Package normalize rewrites URLs embedded in proxied payloads so that
// clients outside the deployment can reach them. Backends frequently emit
// links pointing at internal service ports; those are rewritten to the
// gateway's externally reachable host and port. Rewriting is idempotent:
// a normalized payload passes through unchanged.
package normalize

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Rewriter holds the environment mapping applied to outbound payloads.
type Rewriter struct {
	// ProxyHost and ProxyPort are the externally reachable gateway address
	// substituted for internal service addresses.
	ProxyHost string
	ProxyPort int
	// InternalPorts lists backend service ports that must never leak to
	// clients. A URL pointing at one of them is redirected to the gateway.
	InternalPorts map[int]bool
}

// New creates a Rewriter for the given gateway address and internal ports.
func New(proxyHost string, proxyPort int, internalPorts []int) *Rewriter {
	m := make(map[int]bool, len(internalPorts))
	for _, p := range internalPorts {
		m[p] = true
	}
	return &Rewriter{ProxyHost: proxyHost, ProxyPort: proxyPort, InternalPorts: m}
}

// Rewrite walks a payload value and rewrites every string that parses as
// an absolute URL. Besides plain decoded-JSON shapes it understands the
// row-set types adapters hand back: []map[string]interface{} from the SQL
// and object-storage adapters, and bson.M/bson.A documents from the
// document adapter. Containers are rebuilt, never mutated, so the input
// remains usable by the caller. Non-URL strings pass through untouched.
func (r *Rewriter) Rewrite(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return r.RewriteURL(val)
	case []interface{}:
		return r.rewriteSlice(val)
	case bson.A:
		return r.rewriteSlice(val)
	case map[string]interface{}:
		return r.rewriteMap(val)
	case bson.M:
		return r.rewriteMap(val)
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(val))
		for i, row := range val {
			out[i] = r.rewriteMap(row)
		}
		return out
	case []bson.M:
		out := make([]map[string]interface{}, len(val))
		for i, doc := range val {
			out[i] = r.rewriteMap(doc)
		}
		return out
	default:
		// numbers, bools, nil, and backend scalar types pass through
		return v
	}
}

func (r *Rewriter) rewriteMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, item := range m {
		out[k] = r.Rewrite(item)
	}
	return out
}

func (r *Rewriter) rewriteSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	for i, item := range s {
		out[i] = r.Rewrite(item)
	}
	return out
}

// RewriteURL rewrites a single string if it is an absolute http(s) URL.
// Two rules apply, in order:
//
//  1. A URL on an internal service port is re-pointed at the gateway's
//     host and port.
//  2. https downgrades to http when the resulting host is loopback or
//     private, since local deployments terminate without TLS.
//
// Anything that does not parse as an absolute URL is returned verbatim.
func (r *Rewriter) RewriteURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return s
	}

	if r.isInternal(u) {
		host := r.ProxyHost
		if r.ProxyPort > 0 {
			host = net.JoinHostPort(r.ProxyHost, strconv.Itoa(r.ProxyPort))
		}
		u.Host = host
	}

	if u.Scheme == "https" && isPrivateHost(u.Hostname()) {
		u.Scheme = "http"
	}

	return u.String()
}

// isInternal reports whether the URL points at one of the configured
// internal service ports.
func (r *Rewriter) isInternal(u *url.URL) bool {
	portStr := u.Port()
	if portStr == "" {
		return false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return false
	}
	return r.InternalPorts[port]
}

// isPrivateHost reports whether a hostname resolves textually to a
// loopback or private address. Only literal forms are checked; no DNS
// lookups happen on the request path.
func isPrivateHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
