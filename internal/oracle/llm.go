package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sleuth/internal/followup"
	"sleuth/internal/provider"
	"sleuth/internal/session"
	"sleuth/pkg/logger"
)

const tracerName = "sleuth/oracle"

// historyWindow is how many history entries go into the narrative prompt.
const historyWindow = 5

// LLM is an Oracle backed by a chat provider.
type LLM struct {
	provider    provider.Provider
	model       string
	temperature float64
	log         zerolog.Logger
}

// LLMOption configures an LLM.
type LLMOption func(*LLM)

// WithModel overrides the provider's default model.
func WithModel(model string) LLMOption {
	return func(l *LLM) { l.model = model }
}

// WithTemperature sets the sampling temperature of narrative generation.
func WithTemperature(t float64) LLMOption {
	return func(l *LLM) { l.temperature = t }
}

// NewLLM wraps p.
func NewLLM(p provider.Provider, opts ...LLMOption) *LLM {
	l := &LLM{
		provider:    p,
		temperature: 0.3,
		log:         logger.Component("oracle").With().Str("provider", p.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type toolView struct {
	Name        string
	Description string
	Schema      string
}

func toolViews(catalog session.Catalog) []toolView {
	out := make([]toolView, len(catalog))
	for i, t := range catalog {
		out[i] = toolView{Name: t.Name, Description: t.Description}
		if len(t.InputSchema) > 0 {
			out[i].Schema = string(t.InputSchema)
		}
	}
	return out
}

// Classify asks the model for a JSON classification.
func (l *LLM) Classify(ctx context.Context, in ClassifyInput) (c session.Classification, err error) {
	ctx, span := l.start(ctx, "oracle.Classify")
	defer func() { end(span, err) }()

	system, err := render("classify", classifyTemplate, map[string]any{
		"Tools":   toolViews(in.Catalog),
		"History": lastN(in.History, historyWindow),
	})
	if err != nil {
		return c, &OracleError{Op: OpClassify, Err: err}
	}
	raw, err := l.chatJSON(ctx, system, "Analyze this query: "+in.Query)
	if err != nil {
		return c, &OracleError{Op: OpClassify, Err: err}
	}

	var out llmClassification
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return c, &OracleError{Op: OpClassify, Err: fmt.Errorf("%w: %v", ErrMalformedOutput, err)}
	}
	c = out.toClassification(in.Query)
	l.log.Debug().
		Str("query_type", c.QueryType).
		Str("specific_id", c.SpecificID).
		Str("service", c.ServiceName).
		Float64("confidence", c.Confidence).
		Msg("query classified")
	return c, nil
}

// Plan asks the model for tool calls, then applies EnforceExplicitIDs and
// drops tools missing from the catalog.
func (l *LLM) Plan(ctx context.Context, in PlanInput) (plan []session.ToolCall, err error) {
	ctx, span := l.start(ctx, "oracle.Plan")
	defer func() { end(span, err) }()

	if in.Classification.QueryType == session.QueryConversational {
		return nil, nil
	}

	classification, _ := json.Marshal(in.Classification)
	system, err := render("plan", planTemplate, map[string]any{
		"Query":          in.Query,
		"Classification": string(classification),
		"Tools":          toolViews(in.Catalog),
	})
	if err != nil {
		return nil, &OracleError{Op: OpPlan, Err: err}
	}
	raw, err := l.chatJSON(ctx, system, "Plan the tool calls for: "+in.Query)
	if err != nil {
		return nil, &OracleError{Op: OpPlan, Err: err}
	}

	calls, err := parsePlan(raw)
	if err != nil {
		return nil, &OracleError{Op: OpPlan, Err: err}
	}
	plan = filterCatalog(EnforceExplicitIDs(in.Classification, calls), in.Catalog)
	span.SetAttributes(attribute.Int("plan.size", len(plan)))
	return plan, nil
}

// Generate streams the narrative through sink and then asks for follow-up
// suggestions. A failed suggestion call leaves the lists empty.
func (l *LLM) Generate(ctx context.Context, in AnswerInput, sink TokenSink) (ans *Answer, err error) {
	ctx, span := l.start(ctx, "oracle.Generate")
	defer func() { end(span, err) }()

	contextJSON, err := json.MarshalIndent(Preprocess(in.Results, in.Classification.SearchTerms), "", "  ")
	if err != nil {
		return nil, &OracleError{Op: OpGenerate, Err: err}
	}
	system, err := render("answer", answerTemplate, map[string]any{
		"QueryType": in.Classification.QueryType,
		"Intent":    in.Classification.Intent,
		"Context":   string(contextJSON),
	})
	if err != nil {
		return nil, &OracleError{Op: OpGenerate, Err: err}
	}

	messages := []provider.Message{{Role: provider.RoleSystem, Content: system}}
	for _, h := range lastN(in.History, historyWindow) {
		role := provider.RoleUser
		if h.Role == provider.RoleAssistant {
			role = provider.RoleAssistant
		}
		messages = append(messages, provider.Message{Role: role, Content: h.Content})
	}
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: "Answer this: " + in.Query})

	events, err := l.provider.Stream(ctx, provider.ChatRequest{
		Model:       l.model,
		Messages:    messages,
		Temperature: l.temperature,
	})
	if err != nil {
		return nil, &OracleError{Op: OpGenerate, Err: err}
	}
	collapser := &newlineCollapser{sink: sink}
	resp, err := provider.Collect(events, collapser.Write)
	if err != nil {
		return nil, &OracleError{Op: OpGenerate, Err: err}
	}

	text := Tidy(resp.Content)
	if text == "" {
		return nil, &OracleError{Op: OpGenerate, Err: fmt.Errorf("%w: empty narrative", ErrMalformedOutput)}
	}
	if resp.FinishReason == provider.FinishReasonLength {
		l.log.Warn().Msg("narrative truncated at max tokens")
	}

	ans = &Answer{Text: text}
	l.suggest(ctx, in.Query, ans)
	return ans, nil
}

func (l *LLM) suggest(ctx context.Context, query string, ans *Answer) {
	prompt, err := render("metadata", metadataTemplate, map[string]any{"Query": query, "Answer": ans.Text})
	if err != nil {
		return
	}
	raw, err := l.chatJSON(ctx, "You suggest follow-ups. Reply with JSON only.", prompt)
	if err != nil {
		l.log.Warn().Err(err).Msg("follow-up suggestions unavailable")
		return
	}
	var meta struct {
		ForwardLinks    []string       `json:"forward_links"`
		Recommendations []string       `json:"recommendations"`
		Insights        map[string]any `json:"insights"`
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		l.log.Warn().Err(err).Msg("malformed follow-up suggestions")
		return
	}
	ans.ForwardLinks = meta.ForwardLinks
	ans.Recommendations = meta.Recommendations
	ans.Insights = meta.Insights
}

func (l *LLM) chatJSON(ctx context.Context, system, user string) (string, error) {
	resp, err := l.provider.Chat(ctx, provider.ChatRequest{
		Model: l.model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: system},
			{Role: provider.RoleUser, Content: user},
		},
		JSON: true,
	})
	if err != nil {
		return "", err
	}
	return StripFences(resp.Content), nil
}

func (l *LLM) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithAttributes(attribute.String("provider", l.provider.Name())))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// llmClassification tolerates ids sent as numbers or strings and nulls.
type llmClassification struct {
	QueryType     string  `json:"query_type"`
	Intent        string  `json:"intent"`
	Confidence    float64 `json:"confidence_score"`
	Specificity   string  `json:"specificity_level"`
	Scope         string  `json:"scope"`
	Comprehensive bool    `json:"comprehensive"`
	MultiEntity   bool    `json:"multi_entity"`
	Entities      []struct {
		Type string `json:"type"`
		ID   any    `json:"id"`
		Name any    `json:"name"`
	} `json:"entities"`
	SearchTerms []string `json:"search_terms"`
	ServiceName any      `json:"strict_service_name"`
	SpecificID  any      `json:"specific_id"`
}

var knownQueryTypes = map[string]bool{
	session.QueryIncidentAnalysis: true,
	session.QueryExploration:      true,
	session.QueryRootCause:        true,
	session.QueryInfrastructure:   true,
	session.QueryGraph:            true,
	session.QueryConversational:   true,
	session.QueryGeneral:          true,
}

func (o llmClassification) toClassification(query string) session.Classification {
	c := session.Classification{
		QueryType:     strings.ToLower(strings.TrimSpace(o.QueryType)),
		Intent:        o.Intent,
		Confidence:    clamp01(o.Confidence),
		Specificity:   o.Specificity,
		Scope:         strings.ToLower(o.Scope),
		Comprehensive: o.Comprehensive,
		MultiEntity:   o.MultiEntity,
		SearchTerms:   o.SearchTerms,
		ServiceName:   scalar(o.ServiceName),
		SpecificID:    scalar(o.SpecificID),
	}
	if !knownQueryTypes[c.QueryType] {
		c.QueryType = session.QueryGeneral
	}
	for _, e := range o.Entities {
		ent := session.Entity{Type: strings.ToLower(e.Type), ID: scalar(e.ID), Name: scalar(e.Name)}
		if ent.Type == "" || (ent.ID == "" && ent.Name == "") {
			continue
		}
		c.Entities = append(c.Entities, ent)
	}

	// A numeric "name" is an id the model misfiled.
	if _, numeric := parseInt(c.ServiceName); numeric && c.SpecificID == "" {
		c.SpecificID, c.ServiceName = c.ServiceName, ""
	}
	if c.SpecificID != "" && !hasAnyID(c) {
		c.Entities = append(c.Entities, session.Entity{Type: kindOfID(c.SpecificID, query), ID: c.SpecificID})
	}
	if !c.Comprehensive {
		c.Comprehensive = contains(followup.Signals(query, session.Classification{}), followup.SignalKeyword)
	}
	return c
}

func hasAnyID(c session.Classification) bool {
	for _, e := range c.Entities {
		if e.ID != "" {
			return true
		}
	}
	return false
}

// kindOfID guesses the entity kind of a bare id from its shape and the
// words around it.
func kindOfID(id, query string) string {
	lower := strings.ToLower(query)
	switch {
	case ticketKeyPattern.MatchString(id) || strings.Contains(lower, "ticket"):
		return session.EntityTicket
	case strings.Contains(lower, "incident"):
		return session.EntityIncident
	}
	return session.EntityResource
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(x)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			return ""
		}
		return s
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return ""
	}
	return fmt.Sprint(v)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// parsePlan accepts a bare array or an object wrapping it under plan, tools
// or tool_calls. Calls may name their arguments parameters, params or
// arguments.
func parsePlan(raw string) ([]session.ToolCall, error) {
	var list []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		for _, key := range []string{"plan", "tools", "tool_calls", "calls"} {
			if v, ok := wrapped[key]; ok {
				if err := json.Unmarshal(v, &list); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrMalformedOutput, key, err)
				}
				break
			}
		}
	}
	// null, or an object without a plan key.
	if list == nil {
		return nil, fmt.Errorf("%w: no plan in %q", ErrMalformedOutput, truncate(raw, 80))
	}

	plan := make([]session.ToolCall, 0, len(list))
	for _, item := range list {
		var call struct {
			Name       string         `json:"name"`
			Tool       string         `json:"tool"`
			Parameters map[string]any `json:"parameters"`
			Params     map[string]any `json:"params"`
			Arguments  map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(item, &call); err != nil {
			continue
		}
		name := call.Name
		if name == "" {
			name = call.Tool
		}
		if name == "" {
			continue
		}
		params := call.Parameters
		if params == nil {
			params = call.Params
		}
		if params == nil {
			params = call.Arguments
		}
		if params == nil {
			params = map[string]any{}
		}
		plan = append(plan, session.ToolCall{Name: name, Params: params})
	}
	return plan, nil
}

func lastN(entries []session.HistoryEntry, n int) []session.HistoryEntry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
