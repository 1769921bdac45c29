// internal/gateway/server.go
//
// HTTP front door for every tenant.
//
// Context
// -------
// Server owns the chi router and nothing else.  Each request runs the
// same short pipeline:
//
//	Host → tenant.Cache.Acquire → auth.Gateway → graphql.Engine → JSON
//
// The provider login route swaps the last two steps for the identity
// service.  `/healthz`, `/metrics`, and the admin invalidation hook
// answer for the process, not for a tenant, so they sit outside the
// tenant group and work for any host.
//
// Middleware order (outermost first):
//
//	requestinfo.Enrich  – request id, UA, client IP
//	accessLog           – zap line + latency histogram
//	recoverer           – panic → generic 500 body
//	Security            – response headers
//	CORS                – cross-origin headers, preflight answered here
//	ForceHTTPS          – optional, known tenants only
//
// Notes
// -----
//   - Oxford commas, two spaces after periods.
package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/auth"
	"github.com/yanizio/appgate/internal/graphql"
	"github.com/yanizio/appgate/internal/identity"
	"github.com/yanizio/appgate/internal/middleware"
	"github.com/yanizio/appgate/internal/requestinfo"
	"github.com/yanizio/appgate/internal/tenant"
)

// DefaultMaxBodyBytes caps a /graphql request body.
const DefaultMaxBodyBytes = 1 << 20

// DefaultTokenTTL is the lifetime of tokens issued after a login.
const DefaultTokenTTL = 24 * time.Hour

// Options wires a Server.  Cache, Engine, and Providers are required.
type Options struct {
	Cache       *tenant.Cache
	Auth        *auth.Gateway
	Engine      graphql.Engine
	Identity    *identity.Service
	Providers   *identity.Providers
	RequestInfo *requestinfo.Resolver

	SuccessRedirect string        // login landing page; token goes in the fragment
	TokenTTL        time.Duration // 0 → DefaultTokenTTL
	MaxBodyBytes    int64         // 0 → DefaultMaxBodyBytes
	ForceHTTPS      bool
	CORSOrigins     []string // empty → any origin
	AdminKey        string // enables POST /admin/tenants/{host}/invalidate
	Logger          *zap.Logger
}

// Server routes gateway traffic.  It implements http.Handler.
type Server struct {
	opts   Options
	log    *zap.Logger
	router chi.Router
}

// New validates opts and builds the router.
func New(opts Options) (*Server, error) {
	if opts.Cache == nil || opts.Engine == nil || opts.Providers == nil {
		return nil, errors.New("gateway: Cache, Engine, and Providers are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.L()
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewGateway(opts.Logger)
	}
	if opts.Identity == nil {
		opts.Identity = identity.NewService(opts.Logger)
	}
	if opts.RequestInfo == nil {
		rv, err := requestinfo.New("", opts.Logger)
		if err != nil {
			return nil, err
		}
		opts.RequestInfo = rv
	}
	if opts.SuccessRedirect == "" {
		opts.SuccessRedirect = "/"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{opts: opts, log: opts.Logger.Named("gateway")}
	s.router = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.opts.RequestInfo.Enrich, s.accessLog, s.recoverer, middleware.Security, middleware.CORS(s.opts.CORSOrigins))
	if s.opts.ForceHTTPS {
		dir := s.opts.Cache.Directory()
		r.Use(func(next http.Handler) http.Handler { return middleware.ForceHTTPS(dir, next) })
	}

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.With(s.requireAdminKey).Post("/admin/tenants/{host}/invalidate", s.handleInvalidate)

	r.Group(func(r chi.Router) {
		r.Use(s.withTenant)
		r.Post("/graphql", s.handleGraphQL)
		r.Get("/auth/{provider}", s.handleLogin)
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) { writeStatus(w, http.StatusNotFound) })
		r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { writeStatus(w, http.StatusMethodNotAllowed) })
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tenants": s.opts.Cache.Len()})
}
