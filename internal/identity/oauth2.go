package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/yanizio/appgate/internal/session"
	"github.com/yanizio/appgate/internal/tenant"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

// OAuth2Provider runs the authorization-code flow against one provider
// and reads the user's profile with the resulting token.
type OAuth2Provider struct {
	name       string
	endpoint   oauth2.Endpoint
	scopes     []string
	profileURL string
	states     *session.Store
	client     *http.Client // nil = http.DefaultClient
}

// NewOAuth2Provider builds a provider.  states signs the handshake cookie.
func NewOAuth2Provider(name string, endpoint oauth2.Endpoint, scopes []string, profileURL string, states *session.Store) *OAuth2Provider {
	return &OAuth2Provider{
		name:       name,
		endpoint:   endpoint,
		scopes:     scopes,
		profileURL: profileURL,
		states:     states,
	}
}

// GitHub returns the GitHub login provider.
func GitHub(states *session.Store) *OAuth2Provider {
	return NewOAuth2Provider("github", endpoints.GitHub, []string{"read:user", "user:email"},
		"https://api.github.com/user", states)
}

// Google returns the Google login provider.
func Google(states *session.Store) *OAuth2Provider {
	return NewOAuth2Provider("google", endpoints.Google, []string{"openid", "profile", "email"},
		"https://openidconnect.googleapis.com/v1/userinfo", states)
}

// WithHTTPClient sets the client used for token exchange and profile
// fetches.
func (p *OAuth2Provider) WithHTTPClient(c *http.Client) *OAuth2Provider {
	p.client = c
	return p
}

func (p *OAuth2Provider) Name() string { return p.name }

// Authenticate starts the handshake when the request carries no code and
// finishes it on the provider's callback.
func (p *OAuth2Provider) Authenticate(w http.ResponseWriter, r *http.Request, cfg meta.ProviderConfig) (*Credential, error) {
	host := tenant.HostFromRequest(r)
	conf := p.config(r, cfg)
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		return nil, fmt.Errorf("%s login refused: %s", p.name, e)
	}

	code := q.Get("code")
	if code == "" {
		state, err := p.states.Begin(w, r, host, p.name)
		if err != nil {
			return nil, err
		}
		return nil, &RedirectError{URL: conf.AuthCodeURL(state)}
	}

	if err := p.states.Verify(r, host, p.name, q.Get("state")); err != nil {
		return nil, err
	}
	p.states.Clear(w)

	ctx := r.Context()
	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s token exchange: %w", p.name, err)
	}

	profile, err := p.fetchProfile(ctx, conf.Client(ctx, tok))
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		Provider:    p.name,
		ExternalID:  firstString(profile, "id", "sub"),
		DisplayName: firstString(profile, "name", "login"),
		Email:       firstString(profile, "email"),
		AccessToken: tok.AccessToken,
		Raw:         profile,
	}
	if cred.ExternalID == "" {
		return nil, fmt.Errorf("%s profile has no id", p.name)
	}
	return cred, nil
}

func (p *OAuth2Provider) config(r *http.Request, cfg meta.ProviderConfig) *oauth2.Config {
	scheme := "https"
	if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		scheme = "http"
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     p.endpoint,
		Scopes:       p.scopes,
		RedirectURL:  scheme + "://" + r.Host + "/auth/" + p.name,
	}
}

func (p *OAuth2Provider) fetchProfile(ctx context.Context, c *http.Client) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s profile: %w", p.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s profile: status %d: %s", p.name, resp.StatusCode, body)
	}
	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("%s profile: %w", p.name, err)
	}
	return profile, nil
}

// firstString returns the first key present as a string or number.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
