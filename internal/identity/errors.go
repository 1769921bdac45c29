package identity

import "fmt"

// CodeProviderDisabled is the machine-readable code for a login through
// a provider the tenant has not enabled.
const CodeProviderDisabled = "PROVIDER_DISABLED"

// ProviderDisabledError is returned when a provider is unknown, not
// configured for the tenant, or configured but disabled.
type ProviderDisabledError struct {
	Provider string
}

func (e *ProviderDisabledError) Error() string {
	return fmt.Sprintf("login provider %s is disabled", e.Provider)
}

// Code returns CodeProviderDisabled.
func (e *ProviderDisabledError) Code() string { return CodeProviderDisabled }

// RedirectError tells the handler to send the browser to URL to start
// or continue a provider handshake.  It is not a failure.
type RedirectError struct {
	URL string
}

func (e *RedirectError) Error() string { return "redirect to " + e.URL }
