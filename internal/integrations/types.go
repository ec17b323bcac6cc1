// Package integrations defines the static provider registry: which third-party
// systems can be connected, which tools each one declares, how its secret is
// shaped, and the probe and token-renewal hooks each provider supplies.
// Providers live in subpackages and are wired into a Registry in a fixed order
// by the builtin package.
package integrations

import (
	"context"
	"strings"
	"time"
)

// ProviderType is the registry key for an integration.
type ProviderType string

const (
	ProviderJira       ProviderType = "jira"
	ProviderConfluence ProviderType = "confluence"
	ProviderGitLab     ProviderType = "gitlab"
	ProviderSharePoint ProviderType = "sharepoint"
	ProviderHubSpot    ProviderType = "hubspot"
	ProviderSAPC4C     ProviderType = "sap_c4c"
	ProviderCalendar   ProviderType = "calendar"
	ProviderDatetime   ProviderType = "datetime"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// Normalize lowercases and trims a provider type received from outside.
func Normalize(s string) ProviderType {
	return ProviderType(strings.ToLower(strings.TrimSpace(s)))
}

// ToolParameter describes one argument of a declared tool.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ToolDeclaration is a tool a provider exposes to agents.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// RefreshResult is what a provider token endpoint returns on a successful refresh.
// RefreshToken is empty when the provider did not rotate it.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Scope        string
}

// RefreshFunc exchanges a refresh token for a new access token. Failures should
// be reported as *APIError so the caller can tell a rejected grant from a
// network problem.
type RefreshFunc func(ctx context.Context, refreshToken string) (*RefreshResult, error)

// Prober performs a cheap authenticated call against the provider to check
// that a credential still works.
type Prober interface {
	Probe(ctx context.Context, secret Secret) error
}

// TokenRenewer refreshes OAuth credentials for providers that issue them.
type TokenRenewer interface {
	RenewToken(ctx context.Context, secret *OAuthSecret, refreshToken string) (*RefreshResult, error)
}

// HintFunc extracts a short human-readable instance hint (typically the
// connected base URL) from a decoded secret. It returns "" when nothing useful
// is available.
type HintFunc func(secret Secret) string

// Registration is one provider's static entry in the registry.
type Registration struct {
	Type                ProviderType
	RequiresCredentials bool
	SecretKind          SecretKind
	Tools               []ToolDeclaration
	Hint                HintFunc
	Prober              Prober
	Renewer             TokenRenewer
}

// DeclaresTool reports whether the provider declares a tool with this name.
func (r Registration) DeclaresTool(name string) bool {
	for _, tool := range r.Tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}
