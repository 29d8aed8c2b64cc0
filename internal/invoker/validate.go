package invoker

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParamClass is a required-parameter rule shared by a group of tools.
type ParamClass struct {
	Param   string
	Numeric bool
}

var (
	classResourceID = ParamClass{Param: "resource_id", Numeric: true}
	classIncidentID = ParamClass{Param: "incident_id", Numeric: true}
	classTicketID   = ParamClass{Param: "ticket_id"}
	classQuery      = ParamClass{Param: "query"}
)

var paramClasses = map[string]ParamClass{
	"get_resource_by_id":             classResourceID,
	"get_resource_tickets":           classResourceID,
	"get_resource_version":           classResourceID,
	"get_resource_metadata":          classResourceID,
	"get_changelog_by_resource":      classResourceID,
	"get_changelog_list_by_resource": classResourceID,
	"get_notifications_by_resource":  classResourceID,

	"get_incident_by_id":      classIncidentID,
	"get_incident_changelogs": classIncidentID,
	"get_incident_curated":    classIncidentID,

	"get_ticket_by_id": classTicketID,

	"search_incidents": classQuery,
	"search_resources": classQuery,
	"search_tickets":   classQuery,
	"query_logs":       classQuery,
	"query_metrics":    classQuery,
}

// ClassOf returns the parameter rule for tool, if it has one.
func ClassOf(tool string) (ParamClass, bool) {
	c, ok := paramClasses[tool]
	return c, ok
}

// Validate checks the required parameter of tool. Tools without a class
// always pass.
func Validate(tool string, params map[string]any) *ValidationError {
	class, ok := paramClasses[tool]
	if !ok {
		return nil
	}
	v, present := params[class.Param]
	if !present || isBlank(v) {
		return &ValidationError{Tool: tool, Param: class.Param, Reason: "is required"}
	}
	if class.Numeric && !isNumeric(v) {
		return &ValidationError{Tool: tool, Param: class.Param, Reason: fmt.Sprintf("must be numeric, got %v", v)}
	}
	return nil
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(x)
		return s == "" || strings.EqualFold(s, "undefined")
	}
	return false
}

func isNumeric(v any) bool {
	switch x := v.(type) {
	case int, int32, int64, uint, uint32, uint64:
		return true
	case float64:
		return x == math.Trunc(x)
	case float32:
		return float64(x) == math.Trunc(float64(x))
	case json.Number:
		_, err := x.Int64()
		return err == nil
	case string:
		_, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return err == nil
	}
	return false
}
