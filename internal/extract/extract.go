// Package extract finds entity identifiers in tool results so that a turn
// can follow up with detail calls, including ids that cross entity kinds.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"sleuth/internal/session"
	"sleuth/pkg/logger"
)

// Identifiers scans successful results in order. Primary ids keep the first
// match per kind; linked ids accumulate without duplicates.
func Identifiers(results []session.ToolResult) session.Identifiers {
	log := logger.Component("extract")
	var ids session.Identifiers

	for _, r := range results {
		if !r.Success {
			continue
		}
		p := Decode(r.ToolName, r.Payload)
		name := strings.ToLower(r.ToolName)

		switch {
		case strings.Contains(name, "search_resources"):
			fromResourceSearch(&ids, p)
		case strings.Contains(name, "search_incidents"):
			fromIncidentSearch(&ids, p)
		case strings.Contains(name, "ticket"):
			fromTickets(&ids, p)
		}
	}

	if !ids.Empty() {
		log.Debug().
			Int64("resource_id", ids.ResourceID).
			Int64("incident_id", ids.IncidentID).
			Str("ticket_id", ids.TicketID).
			Ints64("linked_resources", ids.LinkedResourceIDs).
			Ints64("linked_incidents", ids.LinkedIncidentIDs).
			Msg("identifiers extracted")
	}
	return ids
}

func fromResourceSearch(ids *session.Identifiers, p Payload) {
	item, ok := p.First()
	if !ok || ids.ResourceID != 0 {
		return
	}
	id, ok := intField(item, "id", "resource_id", "resourceId")
	if !ok {
		skip(p.Tool, "id", item["id"])
		return
	}
	ids.ResourceID = id
	ids.ResourceName = stringField(item, "resourceName", "name")
}

func fromIncidentSearch(ids *session.Identifiers, p Payload) {
	item, ok := p.First()
	if !ok {
		return
	}
	if ids.IncidentID == 0 {
		if id, ok := intField(item, "id", "incident_id", "incidentId"); ok {
			ids.IncidentID = id
			ids.IncidentTitle = stringField(item, "title", "name")
		} else {
			skip(p.Tool, "id", item["id"])
		}
	}

	mapping, ok := item["resource_mapping"].([]any)
	if !ok {
		return
	}
	for _, entry := range mapping {
		var (
			id    int64
			found bool
		)
		switch v := entry.(type) {
		case map[string]any:
			id, found = intField(v, "id", "resourceId", "resource_id")
		default:
			id, found = toID(v)
		}
		if !found {
			skip(p.Tool, "resource_mapping", entry)
			continue
		}
		ids.LinkedResourceIDs = appendUnique(ids.LinkedResourceIDs, id)
	}
}

func fromTickets(ids *session.Identifiers, p Payload) {
	item, ok := p.First()
	if !ok {
		return
	}
	if ids.TicketID == "" {
		if tid := ticketID(item["id"]); tid != "" {
			ids.TicketID = tid
		}
	}
	if v, present := item["resourceId"]; present && v != nil {
		if id, ok := toID(v); ok {
			ids.LinkedResourceIDs = appendUnique(ids.LinkedResourceIDs, id)
		} else {
			skip(p.Tool, "resourceId", v)
		}
	}
	if v, present := item["incidentId"]; present && v != nil {
		if id, ok := toID(v); ok {
			ids.LinkedIncidentIDs = appendUnique(ids.LinkedIncidentIDs, id)
		} else {
			skip(p.Tool, "incidentId", v)
		}
	}
}

func ticketID(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case nil:
		return ""
	}
	if n, ok := toID(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}

func appendUnique(list []int64, id int64) []int64 {
	if id == 0 {
		return list
	}
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func skip(tool, field string, v any) {
	log := logger.Component("extract")
	log.Debug().
		Str("tool", tool).
		Str("field", field).
		Interface("value", v).
		Msg("skipping non-numeric identifier")
}
