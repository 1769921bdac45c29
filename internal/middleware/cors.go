// internal/middleware/cors.go
//
// Cross-origin access for browser clients.
//
// Every route answers CORS, including preflight for hosts that do not
// resolve to a tenant.  Preflight requests end here with no body; the
// tenant pipeline never sees them.
//
// Notes
// -----
// • Credentials are not allowed.  Clients send the bearer token in the
//   Authorization header, never a cookie.
// • An empty origin list means any origin.

package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/yanizio/appgate/internal/requestinfo"
)

// corsMaxAge is how long, in seconds, a browser may cache a preflight.
const corsMaxAge = 86400

// CORS returns middleware that allows cross-origin calls from origins.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match", requestinfo.HeaderRequestID},
		ExposedHeaders:   []string{requestinfo.HeaderRequestID},
		AllowCredentials: false,
		MaxAge:           corsMaxAge,
	})
}
