// Package sharepoint connects SharePoint Online through Microsoft Entra ID
// OAuth and probes the account with Microsoft Graph.
package sharepoint

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/connector-hub/connector-hub/internal/integrations"
)

const (
	defaultGraphURL = "https://graph.microsoft.com"
	defaultTenant   = "common"
)

// Settings is the Entra ID application used for SharePoint.
type Settings struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	// GraphURL and TokenURL override the public cloud endpoints.
	GraphURL string
	TokenURL string
}

type Connector struct {
	settings   Settings
	httpClient *http.Client
}

func NewConnector(settings Settings, httpClient *http.Client) *Connector {
	if settings.GraphURL == "" {
		settings.GraphURL = defaultGraphURL
	}
	if settings.TenantID == "" {
		settings.TenantID = defaultTenant
	}
	settings.GraphURL = strings.TrimRight(settings.GraphURL, "/")
	return &Connector{settings: settings, httpClient: httpClient}
}

// Probe calls GET /v1.0/me on Microsoft Graph.
func (c *Connector) Probe(ctx context.Context, secret integrations.Secret) error {
	s, ok := secret.(*integrations.OAuthSecret)
	if !ok {
		return integrations.ErrSecretKindMismatch
	}
	req, err := integrations.NewProbeRequest(ctx, c.settings.GraphURL+"/v1.0/me")
	if err != nil {
		return err
	}
	return integrations.DoProbe(integrations.BearerClient(c.httpClient, s.AccessToken), req, "sharepoint probe failed")
}

// RenewToken refreshes against the Entra ID v2 token endpoint of the secret's tenant.
func (c *Connector) RenewToken(ctx context.Context, secret *integrations.OAuthSecret, refreshToken string) (*integrations.RefreshResult, error) {
	tenant := c.settings.TenantID
	if secret.TenantID != "" {
		tenant = secret.TenantID
	}
	endpoint := microsoft.AzureADEndpoint(tenant)
	if c.settings.TokenURL != "" {
		endpoint.TokenURL = c.settings.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	cfg := &oauth2.Config{
		ClientID:     c.settings.ClientID,
		ClientSecret: c.settings.ClientSecret,
		Endpoint:     endpoint,
	}
	return integrations.RefreshWithConfig(ctx, cfg, c.httpClient, refreshToken)
}

func Registration(c *Connector) integrations.Registration {
	return integrations.Registration{
		Type:                integrations.ProviderSharePoint,
		RequiresCredentials: true,
		SecretKind:          integrations.SecretOAuth,
		Tools:               Tools,
		Hint: func(secret integrations.Secret) string {
			s, ok := secret.(*integrations.OAuthSecret)
			if !ok {
				return ""
			}
			if s.SiteURL != "" {
				return strings.TrimRight(s.SiteURL, "/")
			}
			return s.AccountName
		},
		Prober:  c,
		Renewer: c,
	}
}

var Tools = []integrations.ToolDeclaration{
	{
		Name:        "sharepoint_search",
		Description: "Search documents and list items across SharePoint sites.",
		Parameters: []integrations.ToolParameter{
			{Name: "query", Type: "string", Description: "KQL search text", Required: true},
			{Name: "size", Type: "integer", Description: "Maximum number of hits"},
		},
	},
	{
		Name:        "sharepoint_get_document",
		Description: "Download the text content of a document.",
		Parameters: []integrations.ToolParameter{
			{Name: "drive_id", Type: "string", Description: "Drive id", Required: true},
			{Name: "item_id", Type: "string", Description: "Drive item id", Required: true},
		},
	},
	{
		Name:        "sharepoint_list_sites",
		Description: "List SharePoint sites the account can access.",
	},
}
