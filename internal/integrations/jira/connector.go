// Package jira connects Jira Cloud and Jira Data Center sites using a
// username plus API token.
package jira

import (
	"context"
	"net/http"
	"strings"

	gojira "github.com/andygrunwald/go-jira"

	"github.com/connector-hub/connector-hub/internal/integrations"
)

// Connector probes Jira credentials.
type Connector struct {
	transport http.RoundTripper
}

// NewConnector creates a Jira connector. A nil transport uses http.DefaultTransport.
func NewConnector(transport http.RoundTripper) *Connector {
	return &Connector{transport: transport}
}

// Probe fetches the authenticated user (GET /rest/api/2/myself).
func (c *Connector) Probe(ctx context.Context, secret integrations.Secret) error {
	s, ok := secret.(*integrations.APITokenSecret)
	if !ok {
		return integrations.ErrSecretKindMismatch
	}

	tp := gojira.BasicAuthTransport{
		Username:  s.Username,
		Password:  s.APIToken,
		Transport: c.transport,
	}
	client, err := gojira.NewClient(tp.Client(), strings.TrimRight(s.BaseURL, "/")+"/")
	if err != nil {
		return err
	}

	_, resp, err := client.User.GetSelfWithContext(ctx)
	if err != nil {
		var httpResp *http.Response
		if resp != nil {
			httpResp = resp.Response
		}
		apiErr := integrations.ResponseError("jira probe failed", httpResp, err)
		// go-jira consumes the error body and folds it into err.
		if apiErr.Body == "" && httpResp != nil {
			apiErr.Body = err.Error()
		}
		return apiErr
	}
	return nil
}

// Registration returns the Jira registry entry.
func Registration(c *Connector) integrations.Registration {
	return integrations.Registration{
		Type:                integrations.ProviderJira,
		RequiresCredentials: true,
		SecretKind:          integrations.SecretAPIToken,
		Tools:               Tools,
		Hint:                hint,
		Prober:              c,
	}
}

func hint(secret integrations.Secret) string {
	if s, ok := secret.(*integrations.APITokenSecret); ok {
		return strings.TrimRight(s.BaseURL, "/")
	}
	return ""
}

// Tools are the tools every Jira instance exposes.
var Tools = []integrations.ToolDeclaration{
	{
		Name:        "jira_search",
		Description: "Search Jira issues with a JQL query.",
		Parameters: []integrations.ToolParameter{
			{Name: "jql", Type: "string", Description: "JQL query, for example: project = OPS AND status = Open", Required: true},
			{Name: "max_results", Type: "integer", Description: "Maximum number of issues to return (default 25)"},
		},
	},
	{
		Name:        "jira_get_issue",
		Description: "Fetch a single Jira issue by key.",
		Parameters: []integrations.ToolParameter{
			{Name: "issue_key", Type: "string", Description: "Issue key, for example OPS-123", Required: true},
		},
	},
	{
		Name:        "jira_create_issue",
		Description: "Create a Jira issue.",
		Parameters: []integrations.ToolParameter{
			{Name: "project_key", Type: "string", Description: "Project key", Required: true},
			{Name: "summary", Type: "string", Description: "Issue summary", Required: true},
			{Name: "issue_type", Type: "string", Description: "Issue type name (default Task)"},
			{Name: "description", Type: "string", Description: "Issue description"},
		},
	},
	{
		Name:        "jira_add_comment",
		Description: "Add a comment to a Jira issue.",
		Parameters: []integrations.ToolParameter{
			{Name: "issue_key", Type: "string", Description: "Issue key", Required: true},
			{Name: "body", Type: "string", Description: "Comment text", Required: true},
		},
	},
	{
		Name:        "jira_delete_issue",
		Description: "Delete a Jira issue.",
		Parameters: []integrations.ToolParameter{
			{Name: "issue_key", Type: "string", Description: "Issue key", Required: true},
		},
	},
}
