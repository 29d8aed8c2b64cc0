package oracle

import (
	"bytes"
	"text/template"
)

const classifyTemplate = `You are an operations analyst. Classify the user's query about infrastructure resources, incidents, tickets, changelogs, notifications and logs.

Available tools:
{{range .Tools}}- {{.Name}}{{if .Description}}: {{.Description}}{{end}}
{{end}}
Return ONLY a JSON object with these fields:
{
  "query_type": one of "incident_analysis", "exploration", "root_cause", "infrastructure_query", "graph_query", "conversational", "general",
  "intent": short description of what the user wants,
  "entities": [{"type": "resource|incident|ticket|service", "id": "explicit id or null", "name": "name or null"}],
  "search_terms": keywords worth searching for,
  "strict_service_name": exact service or resource name mentioned, or null,
  "specific_id": explicit numeric or ticket id mentioned, or null,
  "comprehensive": true when the user wants everything about one entity,
  "scope": "single", "multiple" or "all",
  "multi_entity": true when the query spans several entity kinds,
  "confidence_score": number between 0 and 1
}

Rules for ids and names:
- A number in the query is an id, never a name. "resource 501" has specific_id "501" and no strict_service_name.
- A ticket key such as OPS-42 is a ticket id.
- A hyphenated token such as vector-0 is a name, not an id.
- Greetings and small talk are "conversational" with no entities.
{{if .History}}
Recent conversation:
{{range .History}}{{.Role}}: {{.Content}}
{{end}}{{end}}`

const planTemplate = `You plan tool calls for an operations assistant.

Query: {{.Query}}
Classification: {{.Classification}}

Available tools and their parameters:
{{range .Tools}}- {{.Name}}{{if .Description}}: {{.Description}}{{end}}{{if .Schema}}
  parameters: {{.Schema}}{{end}}
{{end}}
Priorities:
1. If specific_id is set, call the direct lookup tools and DO NOT use search tools.
   - A resource id: get_resource_by_id. When the user wants everything, also get_resource_version, get_resource_metadata, get_resource_tickets, get_changelog_by_resource and get_notifications_by_resource.
   - An incident id: get_incident_by_id and get_incident_changelogs.
   - A ticket id: get_ticket_by_id.
2. Else if strict_service_name is set, make exactly one search call with that name as the query.
3. Else search with the search terms.
Conversational queries need no tools.

Return ONLY a JSON object: {"plan": [{"name": "tool_name", "parameters": {...}}]}`

const answerTemplate = `You are an operations assistant answering questions about infrastructure.

Query classification: {{.QueryType}}{{if .Intent}} ({{.Intent}}){{end}}

Tool results, already filtered to what matters:
{{.Context}}

Rules:
- Use ONLY facts present in the tool results above. Never invent ids, names, timestamps or counts.
- If a tool failed or returned nothing, say so plainly.
- Write a short narrative in plain prose. No markdown headings, no tables.
- Mention concrete ids and names from the results so the user can follow up.`

const metadataTemplate = `Based on this question and answer, suggest follow-ups.

Question: {{.Query}}
Answer: {{.Answer}}

Return ONLY a JSON object:
{"forward_links": [3 short follow-up questions], "recommendations": [up to 3 actions], "insights": {"key": "value"}}`

func render(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
