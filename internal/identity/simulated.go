package identity

import (
	"net/http"

	"github.com/yanizio/appgate/internal/tenant/meta"
)

// Simulated is a provider that skips the handshake and vouches for a
// fixed profile.  Used by tests and local development only.  When
// Profile.ExternalID is empty the `id` query parameter is used instead.
type Simulated struct {
	ProviderName string
	Profile      Credential
}

func (s *Simulated) Name() string { return s.ProviderName }

func (s *Simulated) Authenticate(_ http.ResponseWriter, r *http.Request, _ meta.ProviderConfig) (*Credential, error) {
	c := s.Profile
	c.Provider = s.ProviderName
	if c.ExternalID == "" {
		c.ExternalID = r.URL.Query().Get("id")
	}
	return &c, nil
}
