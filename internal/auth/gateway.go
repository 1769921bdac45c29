// Package auth verifies bearer tokens against the tenant's signing secret
// and turns them into an Identity.  Verification never fails a request:
// any token that is missing, malformed, badly signed, expired, not yet
// valid, or signed with a non-HMAC algorithm yields Anonymous, and the
// reason is logged at debug level.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/metrics"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

// ErrNoSecret is returned by Sign when the tenant has no signing secret.
var ErrNoSecret = errors.New("tenant has no signing secret")

var validMethods = []string{
	jwt.SigningMethodHS256.Alg(),
	jwt.SigningMethodHS384.Alg(),
	jwt.SigningMethodHS512.Alg(),
}

// Claims is the token payload: the registered claims plus isAdmin.
type Claims struct {
	IsAdmin bool `json:"isAdmin"`
	jwt.RegisteredClaims
}

// Gateway authenticates tokens.  The zero value is not usable; call
// NewGateway.
type Gateway struct {
	log *zap.Logger
	now func() time.Time
}

// NewGateway returns a Gateway logging through log (nil → zap.L()).
func NewGateway(log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.L()
	}
	return &Gateway{log: log.Named("auth"), now: time.Now}
}

// Authenticate verifies raw with the tenant's secret.  It never errors.
func (g *Gateway) Authenticate(rec *meta.Record, raw string) Identity {
	if raw == "" {
		return Anonymous
	}
	id, err := g.verify(rec, raw)
	if err != nil {
		metrics.AuthFailuresTotal.Inc()
		g.log.Debug("token rejected", zap.String("host", rec.Hostname), zap.Error(err))
		return Anonymous
	}
	return id
}

// FromRequest authenticates the request's bearer token, if any.
func (g *Gateway) FromRequest(rec *meta.Record, r *http.Request) Identity {
	raw, _ := BearerToken(r)
	return g.Authenticate(rec, raw)
}

func (g *Gateway) verify(rec *meta.Record, raw string) (Identity, error) {
	if rec == nil || rec.Secret == "" {
		return Anonymous, ErrNoSecret
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(validMethods),
		jwt.WithTimeFunc(g.now),
	)
	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(rec.Secret), nil
	})
	if err != nil {
		return Anonymous, err
	}
	if claims.Subject == "" {
		return Anonymous, errors.New("token has no subject")
	}
	return Identity{UserID: claims.Subject, IsAdmin: claims.IsAdmin}, nil
}

// Sign issues an HS256 token for userID.  A ttl of zero issues a token
// without an expiry.
func (g *Gateway) Sign(rec *meta.Record, userID string, isAdmin bool, ttl time.Duration) (string, error) {
	if rec == nil || rec.Secret == "" {
		return "", ErrNoSecret
	}
	now := g.now()
	claims := Claims{
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(rec.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header.  The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
