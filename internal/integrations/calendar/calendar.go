// Package calendar is a built-in capability: date arithmetic and working-day
// calculations that need no third-party account.
package calendar

import "github.com/connector-hub/connector-hub/internal/integrations"

func Registration() integrations.Registration {
	return integrations.Registration{
		Type:  integrations.ProviderCalendar,
		Tools: Tools,
	}
}

var Tools = []integrations.ToolDeclaration{
	{
		Name:        "calendar_add_business_days",
		Description: "Add a number of business days to a date, skipping weekends.",
		Parameters: []integrations.ToolParameter{
			{Name: "date", Type: "string", Description: "Start date (YYYY-MM-DD)", Required: true},
			{Name: "days", Type: "integer", Description: "Business days to add, may be negative", Required: true},
		},
	},
	{
		Name:        "calendar_week_number",
		Description: "Return the ISO week number of a date.",
		Parameters: []integrations.ToolParameter{
			{Name: "date", Type: "string", Description: "Date (YYYY-MM-DD)", Required: true},
		},
	},
}
