package oracle

import (
	"strings"

	"sleuth/internal/extract"
	"sleuth/internal/session"
)

var directLookup = map[string]struct{ tool, param string }{
	session.EntityResource: {"get_resource_by_id", "resource_id"},
	session.EntityIncident: {"get_incident_by_id", "incident_id"},
	session.EntityTicket:   {"get_ticket_by_id", "ticket_id"},
}

// EnforceExplicitIDs rewrites plan so that an id named in the query is looked
// up directly: entity searches are dropped, the direct lookup is added when
// missing and blank id parameters are filled in.
func EnforceExplicitIDs(c session.Classification, plan []session.ToolCall) []session.ToolCall {
	type want struct{ kind, id string }
	var wants []want
	for _, kind := range []string{session.EntityResource, session.EntityIncident, session.EntityTicket} {
		if id, ok := c.ExplicitID(kind); ok {
			wants = append(wants, want{kind, id})
		}
	}
	if len(wants) == 0 {
		return plan
	}

	out := make([]session.ToolCall, 0, len(plan)+len(wants))
	for _, call := range plan {
		if isEntitySearch(call.Name) {
			continue
		}
		out = append(out, call.Clone())
	}

	var missing []session.ToolCall
	for _, w := range wants {
		lookup := directLookup[w.kind]
		found := false
		for i := range out {
			if out[i].Name != lookup.tool {
				continue
			}
			found = true
			if out[i].Params == nil {
				out[i].Params = map[string]any{}
			}
			if isBlank(out[i].Params[lookup.param]) {
				out[i].Params[lookup.param] = idCall(lookup.tool, lookup.param, w.id).Params[lookup.param]
			}
		}
		if !found {
			missing = append(missing, idCall(lookup.tool, lookup.param, w.id))
		}
	}
	return append(missing, out...)
}

// isEntitySearch is true for free-text searches over resources, incidents
// and tickets. Log and metric queries stay.
func isEntitySearch(tool string) bool {
	if !extract.IsSearch(tool) {
		return false
	}
	switch extract.DetectFamily(tool) {
	case extract.FamilyResource, extract.FamilyIncident, extract.FamilyTicket:
		return true
	}
	return false
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(strings.ToLower(x))
		return s == "" || s == "null" || s == "undefined"
	}
	return false
}
