// Package datetime is a built-in capability that reports the current time.
package datetime

import "github.com/connector-hub/connector-hub/internal/integrations"

func Registration() integrations.Registration {
	return integrations.Registration{
		Type:  integrations.ProviderDatetime,
		Tools: Tools,
	}
}

var Tools = []integrations.ToolDeclaration{
	{
		Name:        "datetime_now",
		Description: "Return the current date and time.",
		Parameters: []integrations.ToolParameter{
			{Name: "timezone", Type: "string", Description: "IANA time zone name (default UTC)"},
		},
	},
	{
		Name:        "datetime_convert",
		Description: "Convert a timestamp between time zones.",
		Parameters: []integrations.ToolParameter{
			{Name: "timestamp", Type: "string", Description: "RFC 3339 timestamp", Required: true},
			{Name: "to_timezone", Type: "string", Description: "Target IANA time zone", Required: true},
		},
	},
}
