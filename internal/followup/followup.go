// Package followup decides whether a turn should expand into detail calls
// for the identifiers its first plan discovered, and builds that plan.
package followup

import (
	"strings"

	"sleuth/internal/session"
)

// MaxLinked caps the detail calls generated from one linked-id list.
const MaxLinked = 5

// Signal names, reported in Decision.Signals.
const (
	SignalFlag        = "comprehensive_flag"
	SignalKeyword     = "comprehensive_keyword"
	SignalSingleScope = "single_scope_detail"
	SignalCrossEntity = "cross_entity"
)

var comprehensiveKeywords = []string{
	"everything", "all details", "all information", "complete",
	"comprehensive", "tell me about", "full details", "tell me everything",
	"get details", "full status", "complete info",
}

var detailIntents = []string{"get details", "tell me about", "full", "complete", "all"}

var crossEntityKeywords = []string{
	"and their", "and its", "with their", "with its", "related", "linked",
	"associated", "affected", "along with", "together with",
}

// GuardTools already having run means the turn expanded once.
var GuardTools = []string{
	"get_resource_by_id",
	"get_resource_version",
	"get_resource_metadata",
	"get_changelog_by_resource",
	"get_resource_tickets",
	"get_notifications_by_resource",
	"get_incident_by_id",
	"get_incident_changelogs",
}

// ResourceDetailTools is the full per-resource call family, in plan order.
var ResourceDetailTools = []string{
	"get_resource_by_id",
	"get_resource_version",
	"get_resource_metadata",
	"get_resource_tickets",
	"get_changelog_by_resource",
	"get_notifications_by_resource",
}

// IncidentDetailTools is the per-incident call family, in plan order.
var IncidentDetailTools = []string{
	"get_incident_by_id",
	"get_incident_changelogs",
}

// Signals returns the expansion signals that hold for query. Any one of
// them is enough to expand.
func Signals(query string, c session.Classification) []string {
	q := strings.ToLower(query)
	var fired []string

	if c.Comprehensive {
		fired = append(fired, SignalFlag)
	}
	if containsAny(q, comprehensiveKeywords) {
		fired = append(fired, SignalKeyword)
	}
	if strings.EqualFold(c.Scope, "single") && containsAny(strings.ToLower(c.Intent), detailIntents) {
		fired = append(fired, SignalSingleScope)
	}
	if c.MultiEntity && containsAny(q, crossEntityKeywords) {
		fired = append(fired, SignalCrossEntity)
	}
	return fired
}

// Decision is the outcome of Decide.
type Decision struct {
	Expand  bool
	Reason  string
	Signals []string
}

// Decide evaluates state after the first execution round.
func Decide(state session.State) Decision {
	signals := Signals(state.Query(), state.Classification())
	if len(signals) == 0 {
		return Decision{Reason: "no expansion signal"}
	}
	if state.Identifiers().Empty() {
		return Decision{Reason: "no identifiers extracted", Signals: signals}
	}
	for _, name := range GuardTools {
		if state.HasExecuted(name) {
			return Decision{Reason: "detail tool " + name + " already executed", Signals: signals}
		}
	}
	return Decision{Expand: true, Reason: strings.Join(signals, ","), Signals: signals}
}

// BuildPlan turns identifiers into detail calls: six per resource, two per
// incident, one per linked id with at most MaxLinked per kind.
func BuildPlan(ids session.Identifiers) []session.ToolCall {
	var plan []session.ToolCall

	if ids.ResourceID != 0 {
		for _, name := range ResourceDetailTools {
			plan = append(plan, call(name, "resource_id", ids.ResourceID))
		}
	}
	if ids.IncidentID != 0 {
		for _, name := range IncidentDetailTools {
			plan = append(plan, call(name, "incident_id", ids.IncidentID))
		}
	}
	for _, id := range capLinked(ids.LinkedResourceIDs, ids.ResourceID) {
		plan = append(plan, call("get_resource_by_id", "resource_id", id))
	}
	for _, id := range capLinked(ids.LinkedIncidentIDs, ids.IncidentID) {
		plan = append(plan, call("get_incident_by_id", "incident_id", id))
	}
	return plan
}

func call(name, param string, id int64) session.ToolCall {
	return session.ToolCall{Name: name, Params: map[string]any{param: id}}
}

// capLinked drops primary, which already has its own calls, and keeps the
// first MaxLinked ids.
func capLinked(ids []int64, primary int64) []int64 {
	out := make([]int64, 0, MaxLinked)
	for _, id := range ids {
		if id == 0 || id == primary {
			continue
		}
		out = append(out, id)
		if len(out) == MaxLinked {
			break
		}
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
