package identity

import (
	"net/http"
	"sort"
	"sync"

	"github.com/yanizio/appgate/internal/tenant/meta"
)

// Provider verifies a login with one external identity provider.
//
// Authenticate returns a *RedirectError while the handshake is still in
// progress and a Credential once the provider has vouched for the user.
// cfg holds the tenant's client id and secret for this provider.
type Provider interface {
	Name() string
	Authenticate(w http.ResponseWriter, r *http.Request, cfg meta.ProviderConfig) (*Credential, error)
}

// Providers is the set of login providers compiled into the gateway.
type Providers struct {
	mu sync.RWMutex
	m  map[string]Provider
}

// NewProviders returns a set holding ps.
func NewProviders(ps ...Provider) *Providers {
	set := &Providers{m: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		set.Register(p)
	}
	return set
}

// Register adds or replaces p.
func (s *Providers) Register(p Provider) {
	s.mu.Lock()
	s.m[p.Name()] = p
	s.mu.Unlock()
}

// Get returns the named provider.
func (s *Providers) Get(name string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.m[name]
	return p, ok
}

// Names lists providers in sorted order.
func (s *Providers) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.m))
	for n := range s.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
