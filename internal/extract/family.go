package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Family is the entity family a tool payload belongs to.
type Family string

const (
	FamilyResource     Family = "resource"
	FamilyIncident     Family = "incident"
	FamilyTicket       Family = "ticket"
	FamilyChangelog    Family = "changelog"
	FamilyNotification Family = "notification"
	FamilyLog          Family = "log"
	FamilyUnknown      Family = "unknown"
)

// Families lists the known families in display order.
var Families = []Family{
	FamilyResource, FamilyIncident, FamilyTicket,
	FamilyChangelog, FamilyNotification, FamilyLog,
}

// DetectFamily maps a tool name to its payload family. The checks run in a
// fixed order so that e.g. get_incident_changelogs is a changelog payload.
func DetectFamily(tool string) Family {
	name := strings.ToLower(tool)
	switch {
	case strings.Contains(name, "changelog"):
		return FamilyChangelog
	case strings.Contains(name, "notification"):
		return FamilyNotification
	case strings.Contains(name, "log"):
		return FamilyLog
	case strings.Contains(name, "ticket"):
		return FamilyTicket
	case strings.Contains(name, "incident"):
		return FamilyIncident
	case strings.Contains(name, "resource"):
		return FamilyResource
	}
	return FamilyUnknown
}

// IsSearch reports whether tool finds entities by free text.
func IsSearch(tool string) bool {
	name := strings.ToLower(tool)
	return strings.HasPrefix(name, "search_") || strings.HasPrefix(name, "query_")
}

// listKeys are the payload keys holding item lists, per family.
var listKeys = map[Family][]string{
	FamilyResource:     {"resources", "items", "results", "data"},
	FamilyIncident:     {"sample", "incidents", "items", "results", "data"},
	FamilyTicket:       {"tickets", "items", "results", "data"},
	FamilyChangelog:    {"changelogs", "changes", "items", "results", "data"},
	FamilyNotification: {"notifications", "items", "results", "data"},
	FamilyLog:          {"logs", "entries", "items", "results", "data"},
	FamilyUnknown:      {"items", "results", "data"},
}

// singleKeys hold one entity record, e.g. {"resource": {...}}.
var singleKeys = map[Family][]string{
	FamilyResource:     {"resource"},
	FamilyIncident:     {"incident"},
	FamilyTicket:       {"ticket"},
	FamilyChangelog:    {"changelog"},
	FamilyNotification: {"notification"},
}

// Payload is a decoded tool result tagged with its family.
type Payload struct {
	Tool   string
	Family Family
	Search bool
	Items  []map[string]any
	// Total is the backend-reported count when present, else len(Items).
	Total int
}

// Decode reads a raw tool payload. Unknown shapes yield a payload with no
// items; Decode never panics.
func Decode(tool string, raw any) Payload {
	p := Payload{Tool: tool, Family: DetectFamily(tool), Search: IsSearch(tool)}

	switch v := raw.(type) {
	case []any:
		p.Items = objects(v)
	case map[string]any:
		p.Items = itemsOf(p.Family, v)
		if n, ok := intField(v, "total", "count", "total_count"); ok {
			p.Total = int(n)
		}
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			if _, isString := decoded.(string); !isString {
				return Decode(tool, decoded)
			}
		}
	}
	if p.Total == 0 {
		p.Total = len(p.Items)
	}
	return p
}

// First returns the first item, if any.
func (p Payload) First() (map[string]any, bool) {
	if len(p.Items) == 0 {
		return nil, false
	}
	return p.Items[0], true
}

func itemsOf(f Family, m map[string]any) []map[string]any {
	for _, key := range listKeys[f] {
		if list, ok := m[key].([]any); ok && len(list) > 0 {
			return objects(list)
		}
	}
	for _, key := range singleKeys[f] {
		if obj, ok := m[key].(map[string]any); ok {
			return []map[string]any{obj}
		}
	}
	// A bare record such as get_resource_by_id returning the resource itself.
	if _, ok := m["id"]; ok {
		return []map[string]any{m}
	}
	return nil
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if obj, ok := v.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// Label picks the display label of an item: title, message, name, then id.
func Label(item map[string]any) string {
	for _, key := range []string{"title", "message", "name", "resourceName"} {
		if s, ok := item[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if id, ok := item["id"]; ok && id != nil {
		switch v := id.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			if n, ok := toID(v); ok {
				return strconv.FormatInt(n, 10)
			}
		}
	}
	return ""
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func intField(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if n, ok := toID(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

// toID accepts JSON numbers, integer Go values and numeric strings.
func toID(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
	case float32:
		if x == float32(int64(x)) {
			return int64(x), true
		}
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
