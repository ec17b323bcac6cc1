// Package gitlab connects gitlab.com and self-managed GitLab instances over OAuth.
package gitlab

import (
	"context"
	"errors"
	"net/http"
	"strings"

	gogitlab "github.com/xanzy/go-gitlab"
	"golang.org/x/oauth2"

	"github.com/connector-hub/connector-hub/internal/integrations"
)

const defaultGitLabURL = "https://gitlab.com"

// Settings is the OAuth application registered with GitLab.
type Settings struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
}

// Connector probes GitLab tokens and renews them at the instance's token endpoint.
type Connector struct {
	settings   Settings
	httpClient *http.Client
}

// NewConnector creates a GitLab connector. httpClient may be nil.
func NewConnector(settings Settings, httpClient *http.Client) *Connector {
	if settings.BaseURL == "" {
		settings.BaseURL = defaultGitLabURL
	}
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	return &Connector{settings: settings, httpClient: httpClient}
}

func (c *Connector) instanceURL(s *integrations.OAuthSecret) string {
	if s.InstanceURL != "" {
		return strings.TrimRight(s.InstanceURL, "/")
	}
	return c.settings.BaseURL
}

// Probe fetches the authenticated user (GET /api/v4/user).
func (c *Connector) Probe(ctx context.Context, secret integrations.Secret) error {
	s, ok := secret.(*integrations.OAuthSecret)
	if !ok {
		return integrations.ErrSecretKindMismatch
	}

	opts := []gogitlab.ClientOptionFunc{gogitlab.WithBaseURL(c.instanceURL(s) + "/api/v4")}
	if c.httpClient != nil {
		opts = append(opts, gogitlab.WithHTTPClient(c.httpClient))
	}
	client, err := gogitlab.NewOAuthClient(s.AccessToken, opts...)
	if err != nil {
		return err
	}

	_, resp, err := client.Users.CurrentUser(gogitlab.WithContext(ctx))
	if err == nil {
		return nil
	}

	var errResp *gogitlab.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return &integrations.APIError{
			StatusCode: errResp.Response.StatusCode,
			Message:    "gitlab probe failed",
			Body:       string(errResp.Body),
			Err:        err,
		}
	}
	var httpResp *http.Response
	if resp != nil {
		httpResp = resp.Response
	}
	return integrations.ResponseError("gitlab probe failed", httpResp, err)
}

// RenewToken refreshes a GitLab OAuth token at {instance}/oauth/token.
func (c *Connector) RenewToken(ctx context.Context, secret *integrations.OAuthSecret, refreshToken string) (*integrations.RefreshResult, error) {
	base := c.instanceURL(secret)
	cfg := &oauth2.Config{
		ClientID:     c.settings.ClientID,
		ClientSecret: c.settings.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/oauth/authorize",
			TokenURL:  base + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return integrations.RefreshWithConfig(ctx, cfg, c.httpClient, refreshToken)
}

func Registration(c *Connector) integrations.Registration {
	return integrations.Registration{
		Type:                integrations.ProviderGitLab,
		RequiresCredentials: true,
		SecretKind:          integrations.SecretOAuth,
		Tools:               Tools,
		Hint: func(secret integrations.Secret) string {
			if s, ok := secret.(*integrations.OAuthSecret); ok {
				return c.instanceURL(s)
			}
			return ""
		},
		Prober:  c,
		Renewer: c,
	}
}

var Tools = []integrations.ToolDeclaration{
	{
		Name:        "gitlab_search_projects",
		Description: "Search GitLab projects visible to the connected account.",
		Parameters: []integrations.ToolParameter{
			{Name: "query", Type: "string", Description: "Search text", Required: true},
		},
	},
	{
		Name:        "gitlab_list_merge_requests",
		Description: "List merge requests for a project.",
		Parameters: []integrations.ToolParameter{
			{Name: "project", Type: "string", Description: "Project id or path with namespace", Required: true},
			{Name: "state", Type: "string", Description: "opened, closed, merged or all"},
		},
	},
	{
		Name:        "gitlab_get_file",
		Description: "Read a file from a project repository.",
		Parameters: []integrations.ToolParameter{
			{Name: "project", Type: "string", Description: "Project id or path with namespace", Required: true},
			{Name: "path", Type: "string", Description: "File path", Required: true},
			{Name: "ref", Type: "string", Description: "Branch, tag or commit (default branch if empty)"},
		},
	},
	{
		Name:        "gitlab_create_issue",
		Description: "Open an issue in a project.",
		Parameters: []integrations.ToolParameter{
			{Name: "project", Type: "string", Description: "Project id or path with namespace", Required: true},
			{Name: "title", Type: "string", Description: "Issue title", Required: true},
			{Name: "description", Type: "string", Description: "Issue body"},
		},
	},
}
