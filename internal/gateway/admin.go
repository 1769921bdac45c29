package gateway

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/tenant"
)

// HeaderAPIKey carries the admin API key.
const HeaderAPIKey = "X-Api-Key"

// requireAdminKey answers 404 when no key is configured and 401 on a
// wrong key.
func (s *Server) requireAdminKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AdminKey == "" {
			writeStatus(w, http.StatusNotFound)
			return
		}
		got := r.Header.Get(HeaderAPIKey)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.AdminKey)) != 1 {
			writeStatus(w, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleInvalidate drops the cached record and connection for a tenant
// after its admin row changed.  In-flight requests keep their lease.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	host := tenant.NormalizeHost(chi.URLParam(r, "host"))
	if host == "" {
		writeStatus(w, http.StatusBadRequest)
		return
	}
	s.opts.Cache.Invalidate(host)
	s.logger(r).Info("tenant invalidated", zap.String("host", host))
	w.WriteHeader(http.StatusNoContent)
}
