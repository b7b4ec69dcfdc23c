package apiproxy

import "strings"

// JoinURL glues a base URL and an endpoint path with exactly one slash at
// the boundary, whatever combination of trailing and leading slashes the
// two sides carry. An empty endpoint returns the base without a trailing
// slash so repeated joins stay stable.
func JoinURL(base, endpoint string) string {
	base = strings.TrimRight(base, "/")
	endpoint = strings.TrimLeft(endpoint, "/")
	if endpoint == "" {
		return base
	}
	return base + "/" + endpoint
}
