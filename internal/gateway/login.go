package gateway

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/identity"
	"github.com/yanizio/appgate/internal/tenant"
)

// handleLogin drives GET /auth/{provider}.  The first visit redirects
// into the provider handshake; the callback links or creates the user and
// redirects to SuccessRedirect with `#token=<jwt>`.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	conn := tenant.ConnFrom(r.Context())
	rec := conn.Record()
	name := chi.URLParam(r, "provider")
	log := s.logger(r).With(zap.String("host", rec.Hostname), zap.String("provider", name))

	p, known := s.opts.Providers.Get(name)
	if err := identity.ProviderEnabled(rec, name); err != nil || !known {
		writeProviderDisabled(w, name)
		return
	}
	cfg, _ := rec.Provider(name)

	cred, err := p.Authenticate(w, r, cfg)
	var redirect *identity.RedirectError
	switch {
	case errors.As(err, &redirect):
		http.Redirect(w, r, redirect.URL, http.StatusFound)
		return
	case err != nil:
		log.Info("provider login rejected", zap.Error(err))
		writeJSON(w, http.StatusUnauthorized, errorBody{
			StatusCode: http.StatusUnauthorized,
			Error:      http.StatusText(http.StatusUnauthorized),
			Message:    "Login with " + name + " failed.",
		})
		return
	}

	user, err := s.opts.Identity.LinkOrCreate(r.Context(), rec, conn.Handle(), cred)
	var disabled *identity.ProviderDisabledError
	switch {
	case errors.As(err, &disabled):
		writeProviderDisabled(w, name)
		return
	case err != nil:
		log.Error("identity link failed", zap.Error(err))
		writeStatus(w, http.StatusInternalServerError)
		return
	}

	token, err := s.opts.Auth.Sign(rec, user.ID, false, s.opts.TokenTTL)
	if err != nil {
		log.Error("token sign failed", zap.Error(err))
		writeStatus(w, http.StatusInternalServerError)
		return
	}
	log.Info("login", zap.String("user_id", user.ID))
	http.Redirect(w, r, successURL(s.opts.SuccessRedirect, token), http.StatusFound)
}

// successURL puts the token in the URL fragment of base.
func successURL(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	u.Fragment = "token=" + token
	return u.String()
}

func writeProviderDisabled(w http.ResponseWriter, name string) {
	e := &identity.ProviderDisabledError{Provider: name}
	writeJSON(w, http.StatusForbidden, errorBody{
		StatusCode: http.StatusForbidden,
		Error:      e.Code(),
		Message:    e.Error(),
	})
}
