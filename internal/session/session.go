// internal/session/session.go
//
// OAuth handshake state cookie.
//
// Context
//   A provider login is two requests: the redirect out to the provider and
//   the callback.  Between them the gateway must remember which provider
//   and which `state` nonce it issued, bound to the tenant host, without a
//   server-side store.  This package keeps that in one short-lived cookie
//   holding an HS256 JWT signed with the configured cookie password.
//
//   Callers (internal/identity) rely only on Begin, Verify, and Clear.
//
// Style
//   Two-space sentence spacing, Oxford comma, terse inline notes.
//
//------------------------------------------------------------------------------

package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	cookieName = "appgate_oauth"
	defaultTTL = 10 * time.Minute
)

// ErrStateMismatch is returned when the callback does not match the
// handshake this browser started.
var ErrStateMismatch = errors.New("oauth state mismatch")

type stateClaims struct {
	Provider string `json:"provider"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// Store signs and verifies handshake cookies.
type Store struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// New returns a Store keyed by password.  ttl ≤ 0 takes the default.
func New(password string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{key: []byte(password), ttl: ttl, now: time.Now}
}

// Begin issues a fresh state nonce for provider on host, stores it in
// the handshake cookie, and returns it for the provider redirect.
func (s *Store) Begin(w http.ResponseWriter, r *http.Request, host, provider string) (string, error) {
	now := s.now()
	nonce := uuid.NewString()
	claims := stateClaims{
		Provider: provider,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{host},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign handshake state: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    signed,
		Path:     "/auth/",
		HttpOnly: true,
		Secure:   r.TLS != nil, // only send over HTTPS
		SameSite: http.SameSiteLaxMode,
		Expires:  now.Add(s.ttl),
	})
	return nonce, nil
}

// Verify checks that the handshake cookie was issued by this gateway for
// host and provider, has not expired, and carries state.
func (s *Store) Verify(r *http.Request, host, provider, state string) error {
	c, err := r.Cookie(cookieName)
	if err != nil || c.Value == "" {
		return fmt.Errorf("%w: no handshake cookie", ErrStateMismatch)
	}

	claims := &stateClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(host),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if _, err := parser.ParseWithClaims(c.Value, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrStateMismatch, err)
	}
	if claims.Provider != provider || claims.Nonce == "" || claims.Nonce != state {
		return ErrStateMismatch
	}
	return nil
}

// Clear removes the handshake cookie.
func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/auth/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
