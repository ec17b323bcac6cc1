package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/connector-hub/connector-hub/internal/db/models"
	"github.com/connector-hub/connector-hub/internal/integrations"
	"github.com/connector-hub/connector-hub/internal/telemetry"
)

// FunctionTool is the function-calling descriptor handed to agents.
type FunctionTool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function is the callable part of a FunctionTool.
type Function struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// Providers lists registrations in registration order.
type Providers interface {
	Registrations() []integrations.Registration
}

// InstanceLister loads the instances in scope for an organisation. Ownership
// scoping is the lister's responsibility.
type InstanceLister interface {
	ListInstances(ctx context.Context, orgID, workflowUserID string) ([]*models.CredentialInstance, error)
}

// SecretOpener decrypts secrets for instance hints.
type SecretOpener interface {
	Open(inst *models.CredentialInstance) (integrations.Secret, error)
}

// Composer builds tool catalogs.
type Composer struct {
	providers Providers
	instances InstanceLister
	secrets   SecretOpener
}

func NewComposer(providers Providers, instances InstanceLister, secrets SecretOpener) *Composer {
	return &Composer{providers: providers, instances: instances, secrets: secrets}
}

// ComposeCSV parses toolTypesCSV and composes the catalog.
func (c *Composer) ComposeCSV(ctx context.Context, organizationID, workflowUserID, toolTypesCSV string) ([]FunctionTool, error) {
	return c.Compose(ctx, organizationID, FromCSV(workflowUserID, toolTypesCSV))
}

// Compose returns the tools available to the caller, in registry order then
// instance order. Tools of credentialed providers are suffixed with the
// instance id.
func (c *Composer) Compose(ctx context.Context, organizationID string, criteria ToolFilterCriteria) ([]FunctionTool, error) {
	instances, err := c.instances.ListInstances(ctx, organizationID, criteria.WorkflowUserID())
	if err != nil {
		return nil, fmt.Errorf("list credential instances: %w", err)
	}

	byType := make(map[integrations.ProviderType][]*models.CredentialInstance)
	for _, inst := range instances {
		t := integrations.Normalize(inst.ProviderType)
		byType[t] = append(byType[t], inst)
	}

	tools := []FunctionTool{}
	for _, reg := range c.providers.Registrations() {
		if !reg.RequiresCredentials {
			tools = append(tools, c.systemTools(reg, byType[reg.Type], criteria)...)
			continue
		}
		if criteria.IncludesOnlySystemTypes() {
			continue
		}
		if criteria.HasFilter() && !criteria.IncludesType(reg.Type.String()) {
			continue
		}
		for _, inst := range byType[reg.Type] {
			if !inst.Active || !inst.HasSecret() {
				continue
			}
			tools = append(tools, c.instanceTools(reg, inst)...)
		}
	}

	telemetry.ComposedToolsCount.Observe(float64(len(tools)))
	return tools, nil
}

func (c *Composer) systemTools(reg integrations.Registration, instances []*models.CredentialInstance, criteria ToolFilterCriteria) []FunctionTool {
	if !criteria.HasFilter() {
		return nil
	}
	if !criteria.IncludesSystem() && !criteria.IncludesType(reg.Type.String()) {
		return nil
	}

	var inst *models.CredentialInstance
	if len(instances) > 0 {
		inst = instances[0]
	}
	if inst != nil && !inst.Active {
		return nil
	}

	out := make([]FunctionTool, 0, len(reg.Tools))
	for _, decl := range reg.Tools {
		if inst != nil && inst.IsToolDisabled(decl.Name) {
			continue
		}
		out = append(out, render(decl.Name, decl.Description, decl.Parameters))
	}
	return out
}

func (c *Composer) instanceTools(reg integrations.Registration, inst *models.CredentialInstance) []FunctionTool {
	hint := c.hint(reg, inst)

	out := make([]FunctionTool, 0, len(reg.Tools))
	for _, decl := range reg.Tools {
		if inst.IsToolDisabled(decl.Name) {
			continue
		}
		desc := decl.Description
		if hint != "" {
			desc = desc + " [" + hint + "]"
		}
		out = append(out, render(decl.Name+"_"+inst.ID, desc, decl.Parameters))
	}
	return out
}

// hint is cosmetic: any failure yields "".
func (c *Composer) hint(reg integrations.Registration, inst *models.CredentialInstance) string {
	if reg.Hint == nil || c.secrets == nil {
		return ""
	}
	secret, err := c.secrets.Open(inst)
	if err != nil {
		slog.Debug("omitting instance hint", "instance_id", inst.ID, "provider", inst.ProviderType, "error", err)
		return ""
	}
	return reg.Hint(secret)
}

func render(name, description string, params []integrations.ToolParameter) FunctionTool {
	return FunctionTool{
		Type: "function",
		Function: Function{
			Name:        name,
			Description: description,
			Parameters:  parameterSchema(params),
		},
	}
}

func parameterSchema(params []integrations.ToolParameter) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(params)),
	}
	for _, p := range params {
		schema.Properties[p.Name] = &jsonschema.Schema{Type: p.Type, Description: p.Description}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}
