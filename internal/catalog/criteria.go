// Package catalog composes the per-request set of callable tools an
// organisation's connected accounts expose.
package catalog

import "strings"

// SystemToolType selects every credential-free provider.
const SystemToolType = "system"

// ToolFilterCriteria narrows a composition. The zero value has no filter.
type ToolFilterCriteria struct {
	workflowUserID string
	toolTypes      []string
}

// NewToolFilterCriteria builds criteria from an explicit type list. Types are
// trimmed, empty entries dropped and duplicates removed in first-seen order.
func NewToolFilterCriteria(workflowUserID string, toolTypes []string) ToolFilterCriteria {
	seen := make(map[string]struct{}, len(toolTypes))
	types := make([]string, 0, len(toolTypes))
	for _, t := range toolTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	return ToolFilterCriteria{workflowUserID: strings.TrimSpace(workflowUserID), toolTypes: types}
}

// FromCSV parses a comma-separated type list. Malformed input degrades to
// fewer (or no) filter entries; it is never an error.
func FromCSV(workflowUserID, csv string) ToolFilterCriteria {
	if csv == "" {
		return NewToolFilterCriteria(workflowUserID, nil)
	}
	return NewToolFilterCriteria(workflowUserID, strings.Split(csv, ","))
}

// WorkflowUserID is the user the composition is scoped to, or "".
func (c ToolFilterCriteria) WorkflowUserID() string {
	return c.workflowUserID
}

// ToolTypes returns a copy of the filter entries.
func (c ToolFilterCriteria) ToolTypes() []string {
	out := make([]string, len(c.toolTypes))
	copy(out, c.toolTypes)
	return out
}

func (c ToolFilterCriteria) HasFilter() bool {
	return len(c.toolTypes) > 0
}

func (c ToolFilterCriteria) IncludesSystem() bool {
	for _, t := range c.toolTypes {
		if t == SystemToolType {
			return true
		}
	}
	return false
}

// IncludesType matches provider types case-insensitively.
func (c ToolFilterCriteria) IncludesType(providerType string) bool {
	for _, t := range c.toolTypes {
		if strings.EqualFold(t, providerType) {
			return true
		}
	}
	return false
}

// IncludesOnlySystemTypes reports a non-empty filter made up solely of
// "system" or "system.*" entries.
func (c ToolFilterCriteria) IncludesOnlySystemTypes() bool {
	if len(c.toolTypes) == 0 {
		return false
	}
	for _, t := range c.toolTypes {
		if t != SystemToolType && !strings.HasPrefix(t, SystemToolType+".") {
			return false
		}
	}
	return true
}
