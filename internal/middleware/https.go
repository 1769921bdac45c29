// Package middleware holds small, composable HTTP wrappers.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/yanizio/appgate/internal/tenant"
)

// resolveTimeout bounds the tenant lookup behind a redirect decision.
const resolveTimeout = 2 * time.Second

// ForceHTTPS wraps h.  If the request is plain HTTP, the host is not
// “localhost”, and the directory confirms the tenant exists, the wrapper
// issues a 308 Permanent Redirect to the HTTPS version of the same URL.
// Otherwise it calls the next handler unchanged.
func ForceHTTPS(dir *tenant.Directory, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := tenant.NormalizeHost(r.Host)
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" || host == "localhost" {
			h.ServeHTTP(w, r)
			return
		}

		// Only redirect known tenants; unknown hosts fall through to a 404.
		ctx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
		_, err := dir.Resolve(ctx, host)
		cancel()
		if err == nil {
			target := "https://" + r.Host + r.URL.RequestURI()
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
			return
		}

		h.ServeHTTP(w, r)
	})
}
