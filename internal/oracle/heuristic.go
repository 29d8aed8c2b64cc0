package oracle

import (
	"context"
	"regexp"
	"strings"

	"sleuth/internal/followup"
	"sleuth/internal/session"
	"sleuth/internal/toolservice"
)

var (
	resourceIDPattern = regexp.MustCompile(`(?i)\bresources?\s*(?:id\s*)?(?:#|:|=)?\s*(\d+)\b`)
	incidentIDPattern = regexp.MustCompile(`(?i)\bincidents?\s*(?:id\s*)?(?:#|:|=)?\s*(\d+)\b`)
	ticketKeyPattern  = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)
	ticketNumPattern  = regexp.MustCompile(`(?i)\btickets?\s*(?:id\s*)?(?:#|:|=)?\s*(\d+)\b`)
	bareIDPattern     = regexp.MustCompile(`(?:^|\s)#?(\d{2,})(?:\s|$|[?.!,])`)
	wholeIDPattern    = regexp.MustCompile(`^#?(\d{2,})$`)
	hyphenNamePattern = regexp.MustCompile(`\b([a-z][a-z0-9]*(?:[-_.][a-z0-9]+)+)\b`)
	namedPattern      = regexp.MustCompile(`(?i)\b(?:service|resource|app|pod|host|node|named|called)\s+["']?([a-z][\w.-]*)`)
	wordPattern       = regexp.MustCompile(`[a-z0-9][a-z0-9_.-]*`)
)

var queryTypeKeywords = []struct {
	queryType string
	keywords  []string
}{
	{session.QueryRootCause, []string{"root cause", "why did", "why is", "why does", "caused", "cause of", "rca"}},
	{session.QueryIncidentAnalysis, []string{"incident", "outage", "failure", "failing", "error", "alert", "broken", "degraded", "down"}},
	{session.QueryGraph, []string{"depend", "graph", "topology", "connected to", "upstream", "downstream", "relationship"}},
	{session.QueryInfrastructure, []string{"resource", "pod", "node", "cluster", "deployment", "status of", "version", "metadata", "server", "host"}},
	{session.QueryExploration, []string{"show", "list", "find", "search", "what", "which", "tell me", "everything", "about", "recent", "ticket", "changelog", "notification", "log"}},
}

var greetings = []string{"hi", "hello", "hey", "thanks", "thank you", "who are you", "what can you do", "help", "good morning", "bye"}

var entityWords = map[string][]string{
	session.EntityResource: {"resource", "service", "pod", "node", "host"},
	session.EntityIncident: {"incident", "outage"},
	session.EntityTicket:   {"ticket"},
	"changelog":            {"change", "changelog", "deploy"},
	"notification":         {"notification", "alert"},
	"log":                  {"log"},
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true, "to": true,
	"in": true, "on": true, "for": true, "with": true, "about": true, "me": true, "my": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "what": true, "which": true,
	"who": true, "how": true, "why": true, "when": true, "show": true, "tell": true, "give": true,
	"list": true, "find": true, "search": true, "get": true, "all": true, "any": true, "there": true,
	"everything": true, "details": true, "detail": true, "info": true, "information": true,
	"please": true, "can": true, "you": true, "its": true, "their": true, "this": true, "that": true,
	"from": true, "last": true, "recent": true, "status": true, "complete": true, "full": true,
	"resource": true, "resources": true, "incident": true, "incidents": true, "ticket": true,
	"tickets": true, "related": true, "does": true, "did": true, "have": true, "has": true,
}

// Heuristic classifies and plans from keywords and id patterns. It never
// fails and cannot write narratives.
type Heuristic struct{}

// NewHeuristic returns the keyword oracle.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Classify reads the query with regular expressions and keyword lists.
func (h *Heuristic) Classify(_ context.Context, in ClassifyInput) (session.Classification, error) {
	q := strings.TrimSpace(in.Query)
	lower := strings.ToLower(q)

	c := session.Classification{
		QueryType: detectQueryType(lower),
		Entities:  explicitEntities(q),
	}
	if c.QueryType == session.QueryConversational && len(c.Entities) > 0 {
		c.QueryType = session.QueryExploration
	}

	for _, e := range c.Entities {
		if e.ID != "" {
			c.SpecificID = e.ID
			break
		}
	}
	if c.SpecificID == "" {
		c.ServiceName = serviceName(q)
		if c.ServiceName != "" {
			c.Entities = append(c.Entities, session.Entity{Type: session.EntityService, Name: c.ServiceName})
			if c.QueryType == session.QueryConversational {
				c.QueryType = session.QueryExploration
			}
		}
	}
	if c.QueryType != session.QueryConversational {
		c.SearchTerms = searchTerms(lower)
	}

	c.Comprehensive = contains(followup.Signals(q, session.Classification{}), followup.SignalKeyword)
	c.MultiEntity = countEntityKinds(lower) >= 2
	c.Scope = scopeOf(lower, c)
	c.Specificity, c.Confidence = specificity(c)
	c.Intent = intentOf(c)
	return c, nil
}

// Plan maps the classification onto catalog tools: explicit ids become
// direct calls, names become a single search.
func (h *Heuristic) Plan(_ context.Context, in PlanInput) ([]session.ToolCall, error) {
	c := in.Classification
	if c.QueryType == session.QueryConversational {
		return nil, nil
	}

	var plan []session.ToolCall
	switch {
	case hasID(c, session.EntityResource):
		id, _ := c.ExplicitID(session.EntityResource)
		tools := []string{"get_resource_by_id"}
		if c.Comprehensive {
			tools = followup.ResourceDetailTools
		}
		for _, name := range tools {
			plan = append(plan, idCall(name, "resource_id", id))
		}
	case hasID(c, session.EntityIncident):
		id, _ := c.ExplicitID(session.EntityIncident)
		for _, name := range followup.IncidentDetailTools {
			plan = append(plan, idCall(name, "incident_id", id))
		}
	case hasID(c, session.EntityTicket):
		id, _ := c.ExplicitID(session.EntityTicket)
		plan = append(plan, session.ToolCall{Name: "get_ticket_by_id", Params: map[string]any{"ticket_id": id}})
	default:
		term := c.ServiceName
		if term == "" {
			term = strings.Join(c.SearchTerms, " ")
		}
		if term == "" {
			return nil, nil
		}
		plan = append(plan, session.ToolCall{Name: searchToolFor(c, in.Query), Params: map[string]any{"query": term}})
	}
	return filterCatalog(plan, in.Catalog), nil
}

// Generate always fails; the deterministic summary takes over.
func (h *Heuristic) Generate(context.Context, AnswerInput, TokenSink) (*Answer, error) {
	return nil, &OracleError{Op: OpGenerate, Err: ErrNarrativeUnavailable}
}

func detectQueryType(lower string) string {
	words := strings.Fields(strings.Trim(lower, "?!. "))
	if len(words) <= 4 {
		for _, g := range greetings {
			if lower == g || strings.HasPrefix(lower, g+" ") || strings.HasPrefix(lower, g+",") || strings.HasPrefix(lower, g+"!") {
				return session.QueryConversational
			}
		}
	}
	for _, qt := range queryTypeKeywords {
		for _, kw := range qt.keywords {
			if strings.Contains(lower, kw) {
				return qt.queryType
			}
		}
	}
	if len(words) <= 2 {
		return session.QueryConversational
	}
	return session.QueryGeneral
}

func explicitEntities(q string) []session.Entity {
	var out []session.Entity
	if m := resourceIDPattern.FindStringSubmatch(q); m != nil {
		out = append(out, session.Entity{Type: session.EntityResource, ID: m[1]})
	}
	if m := incidentIDPattern.FindStringSubmatch(q); m != nil {
		out = append(out, session.Entity{Type: session.EntityIncident, ID: m[1]})
	}
	if m := ticketKeyPattern.FindStringSubmatch(q); m != nil {
		out = append(out, session.Entity{Type: session.EntityTicket, ID: m[1]})
	} else if m := ticketNumPattern.FindStringSubmatch(q); m != nil {
		out = append(out, session.Entity{Type: session.EntityTicket, ID: m[1]})
	}
	if len(out) == 0 {
		// A bare number is a resource id unless the query names another kind.
		if id := bareID(q); id != "" {
			out = append(out, session.Entity{Type: session.EntityResource, ID: id})
		}
	}
	return out
}

// quantityUnits follow a number that counts or measures something.
var quantityUnits = map[string]bool{
	"ms": true, "s": true, "sec": true, "secs": true, "second": true, "seconds": true,
	"m": true, "min": true, "mins": true, "minute": true, "minutes": true,
	"h": true, "hr": true, "hrs": true, "hour": true, "hours": true,
	"d": true, "day": true, "days": true, "w": true, "week": true, "weeks": true,
	"month": true, "months": true, "year": true, "years": true,
	"%": true, "percent": true, "pct": true, "times": true, "x": true,
}

// quantityLeads precede a number that is a count, as in "last 10" or "top 5".
var quantityLeads = map[string]bool{
	"last": true, "past": true, "next": true, "top": true, "first": true,
	"over": true, "within": true, "under": true, "above": true, "below": true,
}

// bareID returns the first number that reads as an identifier, skipping
// quantities such as "last 24 hours" or "30 minutes".
func bareID(q string) string {
	trimmed := strings.Trim(strings.TrimSpace(q), "?.!,")
	if m := wholeIDPattern.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	for _, loc := range bareIDPattern.FindAllStringSubmatchIndex(q, -1) {
		before := strings.Fields(strings.ToLower(q[:loc[2]]))
		if n := len(before); n > 0 && quantityLeads[strings.TrimLeft(before[n-1], "#")] {
			continue
		}
		after := strings.Fields(strings.ToLower(q[loc[3]:]))
		if len(after) > 0 && quantityUnits[strings.Trim(after[0], "?.!,")] {
			continue
		}
		return q[loc[2]:loc[3]]
	}
	return ""
}

func serviceName(q string) string {
	lower := strings.ToLower(q)
	if m := hyphenNamePattern.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	if m := namedPattern.FindStringSubmatch(q); m != nil {
		name := strings.ToLower(strings.Trim(m[1], ".,?!"))
		if !stopwords[name] {
			return name
		}
	}
	return ""
}

func searchTerms(lower string) []string {
	var terms []string
	seen := map[string]bool{}
	for _, w := range wordPattern.FindAllString(lower, -1) {
		w = strings.Trim(w, ".-_")
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
		if len(terms) == 5 {
			break
		}
	}
	return terms
}

func countEntityKinds(lower string) int {
	n := 0
	for _, words := range entityWords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				n++
				break
			}
		}
	}
	return n
}

func scopeOf(lower string, c session.Classification) string {
	switch {
	case c.SpecificID != "" || c.ServiceName != "":
		return "single"
	case strings.Contains(lower, "all ") || strings.Contains(lower, "every "):
		return "all"
	}
	return "multiple"
}

func specificity(c session.Classification) (string, float64) {
	switch {
	case c.SpecificID != "":
		return "high", 0.9
	case c.ServiceName != "":
		return "medium", 0.75
	case c.QueryType == session.QueryConversational:
		return "low", 0.8
	case c.QueryType != session.QueryGeneral:
		return "low", 0.5
	}
	return "low", 0.3
}

func intentOf(c session.Classification) string {
	subject := c.ServiceName
	for _, e := range c.Entities {
		if e.ID != "" {
			subject = e.Type + " " + e.ID
			break
		}
	}
	switch {
	case c.QueryType == session.QueryConversational:
		return "chat"
	case c.Comprehensive && subject != "":
		return "get details of " + subject
	case c.QueryType == session.QueryRootCause:
		return "find root cause"
	case c.QueryType == session.QueryIncidentAnalysis:
		return "analyze incidents"
	case subject != "":
		return "look up " + subject
	}
	return "search"
}

func searchToolFor(c session.Classification, query string) string {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "ticket"):
		return "search_tickets"
	case c.QueryType == session.QueryIncidentAnalysis || c.QueryType == session.QueryRootCause:
		if c.ServiceName == "" {
			return "search_incidents"
		}
	case strings.Contains(lower, " log"):
		return "query_logs"
	}
	return "search_resources"
}

func hasID(c session.Classification, kind string) bool {
	_, ok := c.ExplicitID(kind)
	return ok
}

// idCall sends numeric ids as numbers; the invoker coerces the rest.
func idCall(name, param, id string) session.ToolCall {
	var v any = id
	if n, ok := parseInt(id); ok {
		v = n
	}
	return session.ToolCall{Name: name, Params: map[string]any{param: v}}
}

// filterCatalog drops calls to tools the catalog does not list. An empty
// catalog filters nothing.
func filterCatalog(plan []session.ToolCall, catalog session.Catalog) []session.ToolCall {
	if len(catalog) == 0 {
		return plan
	}
	known := map[string]bool{}
	for _, name := range toolservice.Names(catalog) {
		known[name] = true
	}
	out := plan[:0]
	for _, c := range plan {
		if known[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
