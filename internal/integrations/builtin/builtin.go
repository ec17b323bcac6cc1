// Package builtin assembles the provider registry. The order of registration
// here is the order in which composed tool catalogs list providers.
package builtin

import (
	"net/http"

	"github.com/connector-hub/connector-hub/internal/integrations"
	"github.com/connector-hub/connector-hub/internal/integrations/calendar"
	"github.com/connector-hub/connector-hub/internal/integrations/confluence"
	"github.com/connector-hub/connector-hub/internal/integrations/datetime"
	"github.com/connector-hub/connector-hub/internal/integrations/gitlab"
	"github.com/connector-hub/connector-hub/internal/integrations/hubspot"
	"github.com/connector-hub/connector-hub/internal/integrations/jira"
	"github.com/connector-hub/connector-hub/internal/integrations/sapc4c"
	"github.com/connector-hub/connector-hub/internal/integrations/sharepoint"
)

// Options carries the OAuth applications and the HTTP client shared by every
// provider. HTTPClient may be nil.
type Options struct {
	HTTPClient *http.Client
	GitLab     gitlab.Settings
	SharePoint sharepoint.Settings
	HubSpot    hubspot.Settings
}

// NewRegistry registers every supported provider.
func NewRegistry(opts Options) (*integrations.Registry, error) {
	var transport http.RoundTripper
	if opts.HTTPClient != nil {
		transport = opts.HTTPClient.Transport
	}

	registrations := []integrations.Registration{
		jira.Registration(jira.NewConnector(transport)),
		confluence.Registration(confluence.NewConnector(transport)),
		gitlab.Registration(gitlab.NewConnector(opts.GitLab, opts.HTTPClient)),
		sharepoint.Registration(sharepoint.NewConnector(opts.SharePoint, opts.HTTPClient)),
		hubspot.Registration(hubspot.NewConnector(opts.HubSpot, opts.HTTPClient)),
		sapc4c.Registration(sapc4c.NewConnector(opts.HTTPClient)),
		calendar.Registration(),
		datetime.Registration(),
	}

	reg := integrations.NewRegistry()
	for _, r := range registrations {
		if err := reg.Register(r); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
