package toolservice

import (
	"encoding/json"
	"fmt"
)

type fallbackEntry struct {
	name        string
	description string
	param       string
	paramType   string
}

var fallbackEntries = []fallbackEntry{
	{"search_resources", "Search resources by name or keyword", "query", "string"},
	{"search_incidents", "Search incidents by text", "query", "string"},
	{"search_tickets", "Search support tickets by text", "query", "string"},
	{"query_logs", "Query log entries", "query", "string"},
	{"query_metrics", "Query metric series", "query", "string"},
	{"get_resource_by_id", "Get a resource by id", "resource_id", "integer"},
	{"get_resource_version", "Get version information of a resource", "resource_id", "integer"},
	{"get_resource_metadata", "Get metadata of a resource", "resource_id", "integer"},
	{"get_resource_tickets", "List tickets attached to a resource", "resource_id", "integer"},
	{"get_changelog_by_resource", "Get change history of a resource", "resource_id", "integer"},
	{"get_changelog_list_by_resource", "List changelog entries of a resource", "resource_id", "integer"},
	{"get_notifications_by_resource", "List notifications of a resource", "resource_id", "integer"},
	{"get_incident_by_id", "Get an incident by id", "incident_id", "integer"},
	{"get_incident_changelogs", "Get change history of an incident", "incident_id", "integer"},
	{"get_incident_curated", "Get the curated summary of an incident", "incident_id", "integer"},
	{"get_ticket_by_id", "Get a ticket by id", "ticket_id", "string"},
}

// FallbackCatalog is the built-in catalog used when the backend cannot list
// its tools. Each call returns a fresh slice.
func FallbackCatalog() []Tool {
	tools := make([]Tool, 0, len(fallbackEntries))
	for _, e := range fallbackEntries {
		tools = append(tools, Tool{
			Name:        e.name,
			Description: e.description,
			InputSchema: json.RawMessage(fmt.Sprintf(
				`{"type":"object","properties":{%q:{"type":%q}},"required":[%q]}`,
				e.param, e.paramType, e.param)),
		})
	}
	return tools
}
