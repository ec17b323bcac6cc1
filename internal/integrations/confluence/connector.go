// Package confluence connects Confluence sites using a username plus API token.
package confluence

import (
	"context"
	"net/http"
	"strings"

	gojira "github.com/andygrunwald/go-jira"

	"github.com/connector-hub/connector-hub/internal/integrations"
)

// Connector probes Confluence credentials. Confluence shares Atlassian's
// basic-auth API token scheme, so it reuses go-jira's transport.
type Connector struct {
	transport http.RoundTripper
}

func NewConnector(transport http.RoundTripper) *Connector {
	return &Connector{transport: transport}
}

// Probe fetches the current user.
func (c *Connector) Probe(ctx context.Context, secret integrations.Secret) error {
	s, ok := secret.(*integrations.APITokenSecret)
	if !ok {
		return integrations.ErrSecretKindMismatch
	}

	tp := gojira.BasicAuthTransport{Username: s.Username, Password: s.APIToken, Transport: c.transport}
	req, err := integrations.NewProbeRequest(ctx, currentUserURL(s.BaseURL))
	if err != nil {
		return err
	}
	return integrations.DoProbe(tp.Client(), req, "confluence probe failed")
}

func currentUserURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(base, "/wiki") {
		base += "/wiki"
	}
	return base + "/rest/api/user/current"
}

func Registration(c *Connector) integrations.Registration {
	return integrations.Registration{
		Type:                integrations.ProviderConfluence,
		RequiresCredentials: true,
		SecretKind:          integrations.SecretAPIToken,
		Tools:               Tools,
		Hint: func(secret integrations.Secret) string {
			if s, ok := secret.(*integrations.APITokenSecret); ok {
				return strings.TrimRight(s.BaseURL, "/")
			}
			return ""
		},
		Prober: c,
	}
}

var Tools = []integrations.ToolDeclaration{
	{
		Name:        "confluence_search",
		Description: "Search Confluence content with CQL.",
		Parameters: []integrations.ToolParameter{
			{Name: "cql", Type: "string", Description: "CQL query", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum number of results"},
		},
	},
	{
		Name:        "confluence_get_page",
		Description: "Fetch a Confluence page body by id.",
		Parameters: []integrations.ToolParameter{
			{Name: "page_id", Type: "string", Description: "Page id", Required: true},
		},
	},
	{
		Name:        "confluence_create_page",
		Description: "Create a Confluence page in a space.",
		Parameters: []integrations.ToolParameter{
			{Name: "space_key", Type: "string", Description: "Space key", Required: true},
			{Name: "title", Type: "string", Description: "Page title", Required: true},
			{Name: "body", Type: "string", Description: "Page body in storage format", Required: true},
			{Name: "parent_id", Type: "string", Description: "Optional parent page id"},
		},
	},
}
