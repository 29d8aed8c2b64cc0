package session

import (
	"time"

	"sleuth/internal/toolservice"
)

// Status is the workflow status of a turn.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusDegraded    Status = "degraded"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage names a pipeline stage.
type Stage string

const (
	StageStart          Stage = "start"
	StageAnalyze        Stage = "analyze"
	StageExecute        Stage = "execute"
	StageCheckExpansion Stage = "check_expansion"
	StageExpand         Stage = "expand_and_execute"
	StageEnrich         Stage = "enrich"
	StageFinish         Stage = "finish"
)

// Query types produced by classification.
const (
	QueryIncidentAnalysis = "incident_analysis"
	QueryExploration      = "exploration"
	QueryRootCause        = "root_cause"
	QueryInfrastructure   = "infrastructure_query"
	QueryGraph            = "graph_query"
	QueryConversational   = "conversational"
	QueryGeneral          = "general"
)

// Entity kinds used in Classification.Entities.
const (
	EntityResource = "resource"
	EntityIncident = "incident"
	EntityTicket   = "ticket"
	EntityService  = "service"
)

// Entity is an entity mentioned in the query.
type Entity struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Classification is the oracle's reading of the query.
type Classification struct {
	QueryType     string   `json:"query_type"`
	Intent        string   `json:"intent"`
	Confidence    float64  `json:"confidence_score"`
	Specificity   string   `json:"specificity_level,omitempty"` // low, medium, high
	Scope         string   `json:"scope,omitempty"`             // single, multiple, all
	Comprehensive bool     `json:"comprehensive,omitempty"`
	MultiEntity   bool     `json:"multi_entity,omitempty"`
	Entities      []Entity `json:"entities,omitempty"`
	SearchTerms   []string `json:"search_terms,omitempty"`
	ServiceName   string   `json:"strict_service_name,omitempty"`
	SpecificID    string   `json:"specific_id,omitempty"`
}

// ExplicitID returns the first entity of kind with an id.
func (c Classification) ExplicitID(kind string) (string, bool) {
	for _, e := range c.Entities {
		if e.Type == kind && e.ID != "" {
			return e.ID, true
		}
	}
	return "", false
}

func (c Classification) clone() Classification {
	c.Entities = append([]Entity(nil), c.Entities...)
	c.SearchTerms = append([]string(nil), c.SearchTerms...)
	return c
}

// ToolCall is one planned invocation.
type ToolCall struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"parameters"`
}

// Clone returns a copy with its own parameter map.
func (c ToolCall) Clone() ToolCall {
	return ToolCall{Name: c.Name, Params: cloneParams(c.Params)}
}

// ErrorKind classifies a failed tool result.
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindTransport  ErrorKind = "transport"
)

// ToolResult is the recorded outcome of one ToolCall.
type ToolResult struct {
	ToolName  string         `json:"tool_name"`
	Params    map[string]any `json:"parameters,omitempty"`
	Success   bool           `json:"success"`
	Payload   any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
	Attempts  int            `json:"attempts"`
	Stage     Stage          `json:"stage"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
}

// Identifiers are ids discovered in tool results. Zero values mean absent.
type Identifiers struct {
	ResourceID        int64   `json:"resource_id,omitempty"`
	ResourceName      string  `json:"resource_name,omitempty"`
	IncidentID        int64   `json:"incident_id,omitempty"`
	IncidentTitle     string  `json:"incident_title,omitempty"`
	TicketID          string  `json:"ticket_id,omitempty"`
	LinkedResourceIDs []int64 `json:"linked_resource_ids,omitempty"`
	LinkedIncidentIDs []int64 `json:"linked_incident_ids,omitempty"`
}

// Empty reports whether nothing usable for a follow-up was found.
func (ids Identifiers) Empty() bool {
	return ids.ResourceID == 0 && ids.IncidentID == 0 && ids.TicketID == "" &&
		len(ids.LinkedResourceIDs) == 0 && len(ids.LinkedIncidentIDs) == 0
}

func (ids Identifiers) clone() Identifiers {
	ids.LinkedResourceIDs = append([]int64(nil), ids.LinkedResourceIDs...)
	ids.LinkedIncidentIDs = append([]int64(nil), ids.LinkedIncidentIDs...)
	return ids
}

// HistoryEntry is one message of the conversation window.
type HistoryEntry struct {
	Role      string    `json:"role"` // user, assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Enrichment is what the response assembler attaches to the answer.
type Enrichment struct {
	ForwardLinks    []string       `json:"forward_links"`
	Recommendations []string       `json:"recommendations"`
	Insights        map[string]any `json:"insights,omitempty"`
	Annotations     []string       `json:"annotations"`
	Quality         float64        `json:"quality"`
}

func (e Enrichment) clone() Enrichment {
	e.ForwardLinks = append([]string(nil), e.ForwardLinks...)
	e.Recommendations = append([]string(nil), e.Recommendations...)
	e.Annotations = append([]string(nil), e.Annotations...)
	if e.Insights != nil {
		m := make(map[string]any, len(e.Insights))
		for k, v := range e.Insights {
			m[k] = v
		}
		e.Insights = m
	}
	return e
}

// Catalog is the tool list snapshot a turn runs against.
type Catalog = []toolservice.Tool

func cloneParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func clonePlan(plan []ToolCall) []ToolCall {
	out := make([]ToolCall, len(plan))
	for i, c := range plan {
		out[i] = c.Clone()
	}
	return out
}
