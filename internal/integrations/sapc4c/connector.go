// Package sapc4c connects SAP Cloud for Customer tenants with OAuth client
// credentials issued by the tenant.
package sapc4c

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/connector-hub/connector-hub/internal/integrations"
)

const (
	tokenPath = "/sap/bc/sec/oauth2/token"
	odataPath = "/sap/c4c/odata/v1/c4codataapi/"
)

// Connector probes C4C tenants. The client credentials are exchanged for a
// short-lived token on every probe, so there is no refresh token to manage.
type Connector struct {
	httpClient *http.Client
}

func NewConnector(httpClient *http.Client) *Connector {
	return &Connector{httpClient: httpClient}
}

// Probe fetches the OData service document.
func (c *Connector) Probe(ctx context.Context, secret integrations.Secret) error {
	s, ok := secret.(*integrations.ClientCredentialsSecret)
	if !ok {
		return integrations.ErrSecretKindMismatch
	}
	tenant := strings.TrimRight(s.TenantURL, "/")

	cfg := clientcredentials.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		TokenURL:     tenant + tokenPath,
		Scopes:       s.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	// Fetch the token up front so a rejected client shows up with its own status.
	tok, err := cfg.Token(ctx)
	if err != nil {
		return tokenError(err)
	}

	req, err := integrations.NewProbeRequest(ctx, tenant+odataPath)
	if err != nil {
		return err
	}
	return integrations.DoProbe(integrations.BearerClient(c.httpClient, tok.AccessToken), req, "sap c4c probe failed")
}

func tokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		return &integrations.APIError{
			StatusCode: retrieveErr.Response.StatusCode,
			Message:    "sap c4c token request failed",
			Body:       string(retrieveErr.Body),
			Err:        err,
		}
	}
	return integrations.NewTransportError("sap c4c token request failed", err)
}

func Registration(c *Connector) integrations.Registration {
	return integrations.Registration{
		Type:                integrations.ProviderSAPC4C,
		RequiresCredentials: true,
		SecretKind:          integrations.SecretClientCredentials,
		Tools:               Tools,
		Hint: func(secret integrations.Secret) string {
			if s, ok := secret.(*integrations.ClientCredentialsSecret); ok {
				return strings.TrimRight(s.TenantURL, "/")
			}
			return ""
		},
		Prober: c,
	}
}

var Tools = []integrations.ToolDeclaration{
	{
		Name:        "sap_c4c_search_accounts",
		Description: "Search customer accounts by name.",
		Parameters: []integrations.ToolParameter{
			{Name: "name", Type: "string", Description: "Account name or prefix", Required: true},
			{Name: "top", Type: "integer", Description: "Maximum number of accounts"},
		},
	},
	{
		Name:        "sap_c4c_get_opportunity",
		Description: "Fetch an opportunity by id.",
		Parameters: []integrations.ToolParameter{
			{Name: "opportunity_id", Type: "string", Description: "Opportunity id", Required: true},
		},
	},
	{
		Name:        "sap_c4c_list_tickets",
		Description: "List service tickets for an account.",
		Parameters: []integrations.ToolParameter{
			{Name: "account_id", Type: "string", Description: "Account id", Required: true},
			{Name: "status", Type: "string", Description: "Ticket status filter"},
		},
	},
}
