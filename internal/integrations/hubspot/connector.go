// Package hubspot connects HubSpot portals over OAuth.
package hubspot

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/connector-hub/connector-hub/internal/integrations"
)

const defaultAPIURL = "https://api.hubapi.com"

type Settings struct {
	ClientID     string
	ClientSecret string
	APIURL       string
}

type Connector struct {
	settings   Settings
	httpClient *http.Client
}

func NewConnector(settings Settings, httpClient *http.Client) *Connector {
	if settings.APIURL == "" {
		settings.APIURL = defaultAPIURL
	}
	settings.APIURL = strings.TrimRight(settings.APIURL, "/")
	return &Connector{settings: settings, httpClient: httpClient}
}

// Probe reads the portal account details.
func (c *Connector) Probe(ctx context.Context, secret integrations.Secret) error {
	s, ok := secret.(*integrations.OAuthSecret)
	if !ok {
		return integrations.ErrSecretKindMismatch
	}
	req, err := integrations.NewProbeRequest(ctx, c.settings.APIURL+"/account-info/v3/details")
	if err != nil {
		return err
	}
	return integrations.DoProbe(integrations.BearerClient(c.httpClient, s.AccessToken), req, "hubspot probe failed")
}

// RenewToken refreshes at /oauth/v1/token. HubSpot keeps the refresh token stable.
func (c *Connector) RenewToken(ctx context.Context, _ *integrations.OAuthSecret, refreshToken string) (*integrations.RefreshResult, error) {
	cfg := &oauth2.Config{
		ClientID:     c.settings.ClientID,
		ClientSecret: c.settings.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://app.hubspot.com/oauth/authorize",
			TokenURL:  c.settings.APIURL + "/oauth/v1/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return integrations.RefreshWithConfig(ctx, cfg, c.httpClient, refreshToken)
}

func Registration(c *Connector) integrations.Registration {
	return integrations.Registration{
		Type:                integrations.ProviderHubSpot,
		RequiresCredentials: true,
		SecretKind:          integrations.SecretOAuth,
		Tools:               Tools,
		Hint: func(secret integrations.Secret) string {
			if s, ok := secret.(*integrations.OAuthSecret); ok {
				return s.AccountName
			}
			return ""
		},
		Prober:  c,
		Renewer: c,
	}
}

var Tools = []integrations.ToolDeclaration{
	{
		Name:        "hubspot_search_contacts",
		Description: "Search CRM contacts by name, email or company.",
		Parameters: []integrations.ToolParameter{
			{Name: "query", Type: "string", Description: "Search text", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum number of contacts"},
		},
	},
	{
		Name:        "hubspot_get_deal",
		Description: "Fetch a deal with its associated contacts.",
		Parameters: []integrations.ToolParameter{
			{Name: "deal_id", Type: "string", Description: "Deal id", Required: true},
		},
	},
	{
		Name:        "hubspot_create_note",
		Description: "Attach a note to a CRM record.",
		Parameters: []integrations.ToolParameter{
			{Name: "object_type", Type: "string", Description: "contacts, companies or deals", Required: true},
			{Name: "object_id", Type: "string", Description: "Record id", Required: true},
			{Name: "body", Type: "string", Description: "Note text", Required: true},
		},
	},
}
