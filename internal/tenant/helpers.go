// internal/tenant/helpers.go
//
// Tenant helper functions shared across directory, cache, and tests.
//
// Context
// -------
// The Host header is untrusted input.  Every lookup key passes through
// NormalizeHost first so "Shop.Example.com:443" and "shop.example.com."
// share one cache slot and one admin row.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • No logging here; caller decides what to log.

package tenant

import (
	"net/http"
	"strings"
)

// NormalizeHost trims, lower-cases, strips any :port (including the
// bracketed IPv6 form), and drops one trailing dot.
func NormalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = stripPort(h)
	return strings.TrimSuffix(h, ".")
}

// HostFromRequest returns the normalised Host header of r.
func HostFromRequest(r *http.Request) string {
	return NormalizeHost(r.Host)
}

// stripPort removes :port from a host when present.  A bare IPv6 literal
// (more than one colon, no brackets) is returned unchanged.
func stripPort(h string) string {
	if strings.HasPrefix(h, "[") {
		if i := strings.IndexByte(h, ']'); i != -1 {
			return h[1:i]
		}
		return h
	}
	if strings.Count(h, ":") == 1 {
		return h[:strings.IndexByte(h, ':')]
	}
	return h
}
