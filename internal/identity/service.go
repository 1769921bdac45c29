// Package identity turns verified provider credentials into tenant users.
//
// LinkOrCreate is idempotent per (provider, external id): the first login
// creates a user, every later login returns the same one.  Concurrent
// first logins race on the storage layer's uniqueness guarantee; losers
// re-read and return the winner's user, so the race is never visible to
// callers.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/metrics"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

// Credential is a verified identity asserted by a provider.
type Credential struct {
	Provider    string
	ExternalID  string
	DisplayName string
	Email       string
	AccessToken string
	Raw         map[string]any // provider profile as received
}

func (c *Credential) stored() database.Credential {
	return database.Credential{
		ID:          c.ExternalID,
		DisplayName: c.DisplayName,
		Email:       c.Email,
		AccessToken: c.AccessToken,
		Profile:     database.Profile(c.Raw),
	}
}

// Service links credentials to users.
type Service struct {
	log   *zap.Logger
	newID func() string
	now   func() time.Time
}

// NewService returns a Service logging through log (nil → zap.L()).
func NewService(log *zap.Logger) *Service {
	if log == nil {
		log = zap.L()
	}
	return &Service{log: log.Named("identity"), newID: uuid.NewString, now: time.Now}
}

// ProviderEnabled returns a *ProviderDisabledError unless rec enables
// provider.
func ProviderEnabled(rec *meta.Record, provider string) error {
	if cfg, ok := rec.Provider(provider); ok && cfg.Enabled {
		return nil
	}
	return &ProviderDisabledError{Provider: provider}
}

// LinkOrCreate returns the user owning cred, creating one on first login.
func (s *Service) LinkOrCreate(ctx context.Context, rec *meta.Record, h database.Handle, cred *Credential) (*database.User, error) {
	if err := ProviderEnabled(rec, cred.Provider); err != nil {
		metrics.IdentityLinksTotal.WithLabelValues("disabled").Inc()
		return nil, err
	}
	if cred.ExternalID == "" {
		return nil, fmt.Errorf("%s credential has no external id", cred.Provider)
	}

	u, err := h.FindUserByCredential(ctx, cred.Provider, cred.ExternalID)
	switch {
	case err == nil:
		metrics.IdentityLinksTotal.WithLabelValues("existing").Inc()
		return u, nil
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("find user by %s credential: %w", cred.Provider, err)
	}

	u = &database.User{
		ID:          s.newID(),
		CreatedAt:   s.now().UTC(),
		Credentials: map[string]database.Credential{cred.Provider: cred.stored()},
	}
	err = h.InsertUser(ctx, u)
	switch {
	case err == nil:
		metrics.IdentityLinksTotal.WithLabelValues("created").Inc()
		s.log.Info("user created",
			zap.String("host", rec.Hostname),
			zap.String("provider", cred.Provider),
			zap.String("user", u.ID))
		return u, nil
	case errors.Is(err, database.ErrConflict):
		metrics.IdentityLinksTotal.WithLabelValues("conflict").Inc()
		winner, ferr := h.FindUserByCredential(ctx, cred.Provider, cred.ExternalID)
		if ferr != nil {
			return nil, fmt.Errorf("re-read after conflict: %w", ferr)
		}
		s.log.Debug("concurrent first login resolved",
			zap.String("host", rec.Hostname),
			zap.String("provider", cred.Provider),
			zap.String("user", winner.ID))
		return winner, nil
	default:
		return nil, fmt.Errorf("insert user: %w", err)
	}
}
