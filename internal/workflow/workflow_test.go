package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/invoker"
	"sleuth/internal/oracle"
	"sleuth/internal/respond"
	"sleuth/internal/session"
	"sleuth/internal/storage"
	"sleuth/internal/toolservice"
)

// fakeTools answers Execute from a per-tool payload table and records calls.
type fakeTools struct {
	mu       sync.Mutex
	calls    []session.ToolCall
	payloads map[string]any
	listErr  error
}

func (f *fakeTools) ListTools(ctx context.Context) ([]toolservice.Tool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return toolservice.FallbackCatalog(), nil
}

func (f *fakeTools) Execute(ctx context.Context, name string, params map[string]any) (*toolservice.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, session.ToolCall{Name: name, Params: params})
	f.mu.Unlock()
	if p, ok := f.payloads[name]; ok {
		return &toolservice.Result{Success: true, Payload: p}, nil
	}
	return &toolservice.Result{Success: true, Payload: map[string]any{"items": []any{}}}, nil
}

func (f *fakeTools) called() []session.ToolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]session.ToolCall(nil), f.calls...)
}

func (f *fakeTools) names() []string {
	return callNames(f.called())
}

// recordSink keeps every event in order.
type recordSink struct {
	mu     sync.Mutex
	events []string
	tools  []ToolBatch
	tokens strings.Builder
	done   []Completion
}

func (r *recordSink) ToolsStarting(b ToolBatch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "tools")
	r.tools = append(r.tools, b)
}

func (r *recordSink) Token(tok string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "token")
	r.tokens.WriteString(tok)
}

func (r *recordSink) Completed(c Completion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "done")
	r.done = append(r.done, c)
}

type harness struct {
	engine *Engine
	tools  *fakeTools
	store  *storage.MemoryStore
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	tools := &fakeTools{payloads: map[string]any{}}
	store := storage.NewMemoryStore()
	h := oracle.NewHeuristic()
	deps := Deps{
		Oracle:    h,
		Heuristic: h,
		Catalog:   tools,
		Executor:  invoker.New(tools, invoker.Config{MaxAttempts: 2}),
		Assembler: respond.New(h),
		Store:     store,
	}
	if mutate != nil {
		mutate(&deps)
	}
	e, err := New(deps, DefaultConfig().WithTurnTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return &harness{engine: e, tools: tools, store: store}
}

func (h *harness) run(t *testing.T, query, sessionID string, sink Sink) session.State {
	t.Helper()
	s, err := h.engine.Run(context.Background(), session.Request{Query: query, SessionID: sessionID}, sink)
	require.NoError(t, err)
	return s
}

func TestNew_MissingDependency(t *testing.T) {
	_, err := New(Deps{}, DefaultConfig())
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestRun_ExplicitResourceSkipsSearch(t *testing.T) {
	h := newHarness(t, nil)
	s := h.run(t, "tell me everything about resource 501", "s1", nil)

	assert.Equal(t, session.StatusCompleted, s.Status())
	for _, c := range h.tools.called() {
		assert.False(t, strings.HasPrefix(c.Name, "search_"), c.Name)
	}
	calls := h.tools.called()
	require.NotEmpty(t, calls)
	assert.Equal(t, "get_resource_by_id", calls[0].Name)
	assert.EqualValues(t, 501, calls[0].Params["resource_id"])
	assert.Equal(t, "get_resource_by_id", s.Plan()[0].Name)
}

func TestRun_SearchThenExpand(t *testing.T) {
	h := newHarness(t, nil)
	h.tools.payloads["search_resources"] = map[string]any{
		"resources": []any{map[string]any{"id": float64(77), "resourceName": "vector-0"}},
	}
	sink := &recordSink{}

	s := h.run(t, "everything about vector-0", "s1", sink)

	names := h.tools.names()
	require.Len(t, names, 7)
	assert.Equal(t, "search_resources", names[0])
	assert.Equal(t, int64(77), s.Identifiers().ResourceID)
	assert.False(t, s.FollowupPending())
	assert.Len(t, s.Plan(), 7)
	for _, c := range h.tools.called()[1:] {
		assert.EqualValues(t, 77, c.Params["resource_id"], c.Name)
	}

	require.Len(t, sink.tools, 2)
	assert.Equal(t, PhasePrimary, sink.tools[0].Phase)
	assert.Equal(t, PhaseFollowup, sink.tools[1].Phase)
	assert.Equal(t, 6, sink.tools[1].Count)
	assert.Equal(t, session.StatusCompleted, s.Status())
}

func TestRun_EmptyPlan(t *testing.T) {
	h := newHarness(t, nil)
	s := h.run(t, "hello there", "s1", nil)

	assert.Equal(t, session.StatusCompleted, s.Status())
	assert.Empty(t, s.Plan())
	assert.Empty(t, s.Results())
	assert.Empty(t, h.tools.called())
	assert.Contains(t, s.Answer(), "No tools were run")
	assert.Equal(t, 0, s.ErrorCount())
}

func TestRun_ValidationFailure(t *testing.T) {
	h := newHarness(t, nil)
	s := h.run(t, "", "s1", nil)

	assert.Equal(t, session.StatusFailed, s.Status())
	assert.GreaterOrEqual(t, s.ErrorCount(), 1)
	assert.Equal(t, len(s.Errors()), s.ErrorCount())
	assert.True(t, strings.HasPrefix(s.Answer(), "Request validation failed"))
	assert.Empty(t, h.tools.called())
	assert.False(t, s.CompletedAt().IsZero())

	_, err := h.store.GetCheckpoint(context.Background(), "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

type panicExecutor struct{}

func (panicExecutor) ExecutePlan(context.Context, []session.ToolCall, session.Stage) []session.ToolResult {
	panic("executor exploded")
}

func TestRun_StagePanicIsRecovered(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Executor = panicExecutor{} })
	sink := &recordSink{}
	s := h.run(t, "status of resource 42", "s1", sink)

	assert.Equal(t, session.StatusCompleted, s.Status())
	assert.Equal(t, 1, s.ErrorCount())
	assert.Contains(t, s.Errors()[0], "executor exploded")
	assert.NotEmpty(t, s.Answer())
	assert.Equal(t, session.StageFinish, s.Stage())
	require.Len(t, sink.done, 1)
	assert.Equal(t, session.StatusCompleted, sink.done[0].Status)
}

// failingOracle fails every call without a recovered result.
type failingOracle struct{}

func (failingOracle) Classify(context.Context, oracle.ClassifyInput) (session.Classification, error) {
	return session.Classification{}, &oracle.OracleError{Op: oracle.OpClassify, Err: errors.New("model down")}
}

func (failingOracle) Plan(context.Context, oracle.PlanInput) ([]session.ToolCall, error) {
	return nil, &oracle.OracleError{Op: oracle.OpPlan, Err: errors.New("model down")}
}

func (failingOracle) Generate(context.Context, oracle.AnswerInput, oracle.TokenSink) (*oracle.Answer, error) {
	return nil, &oracle.OracleError{Op: oracle.OpGenerate, Err: errors.New("model down")}
}

func TestRun_OracleFailureSubstitutesHeuristic(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.Oracle = failingOracle{}
		d.Assembler = respond.New(failingOracle{})
	})
	s := h.run(t, "status of resource 42", "s1", nil)

	assert.Equal(t, session.StatusCompleted, s.Status())
	assert.Equal(t, 3, s.ErrorCount())
	assert.Equal(t, []string{"get_resource_by_id"}, h.tools.names())
	assert.Contains(t, s.Answer(), "I analyzed your query")
}

func TestRun_RecoveredFallbackCountsErrors(t *testing.T) {
	fb := oracle.NewFallback(failingOracle{}, oracle.NewHeuristic())
	h := newHarness(t, func(d *Deps) {
		d.Oracle = fb
		d.Assembler = respond.New(fb)
	})
	s := h.run(t, "status of resource 42", "s1", nil)

	assert.Equal(t, session.StatusCompleted, s.Status())
	assert.False(t, s.CompletedAt().IsZero())
	// classify, plan and generate each failed on the primary.
	assert.Equal(t, 3, s.ErrorCount())
	assert.Equal(t, []string{"get_resource_by_id"}, h.tools.names())
}

func TestRun_CatalogFailureUsesFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.tools.listErr = errors.New("unreachable")
	s := h.run(t, "status of resource 42", "s1", nil)

	assert.Equal(t, session.StatusCompleted, s.Status())
	assert.Len(t, s.Catalog(), len(toolservice.FallbackCatalog()))
}

func TestRun_SinkOrder(t *testing.T) {
	h := newHarness(t, nil)
	sink := &recordSink{}
	s := h.run(t, "status of resource 42", "s1", sink)

	require.NotEmpty(t, sink.events)
	assert.Equal(t, "tools", sink.events[0])
	assert.Equal(t, "done", sink.events[len(sink.events)-1])
	assert.Equal(t, 1, strings.Count(strings.Join(sink.events, ","), "done"))
	assert.Equal(t, s.Answer(), sink.tokens.String())
	assert.Equal(t, []string{"get_resource_by_id"}, sink.done[0].ExecutedTools)
	assert.NotEmpty(t, sink.done[0].ForwardLinks)
}

func TestRun_HistoryCappedAcrossTurns(t *testing.T) {
	h := newHarness(t, nil)
	var s session.State
	for i := 0; i < 7; i++ {
		s = h.run(t, fmt.Sprintf("status of resource %d", 10+i), "s1", nil)
	}
	assert.Len(t, s.History(), 10)
	assert.Equal(t, "status of resource 16", s.History()[8].Content)

	cp, err := h.store.GetCheckpoint(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 7, cp.TurnCount)
	assert.Len(t, cp.History, 10)
}

func TestRun_OversizedRequestHistoryIsTrimmed(t *testing.T) {
	h := newHarness(t, nil)
	var history []session.HistoryEntry
	for i := 0; i < 30; i++ {
		history = append(history, session.HistoryEntry{Role: "user", Content: fmt.Sprint(i)})
	}
	s, err := h.engine.Run(context.Background(), session.Request{Query: "hello there", History: history}, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(s.History()), 10)
}

func TestRun_HistoryLimitAboveTenIsClamped(t *testing.T) {
	tools := &fakeTools{payloads: map[string]any{}}
	h := oracle.NewHeuristic()
	e, err := New(Deps{
		Oracle:   h,
		Catalog:  tools,
		Executor: invoker.New(tools, invoker.Config{MaxAttempts: 1}),
		Store:    storage.NewMemoryStore(),
	}, DefaultConfig().WithHistoryLimit(20))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	assert.Equal(t, session.DefaultHistoryLimit, e.Config().HistoryLimit)

	var history []session.HistoryEntry
	for i := 0; i < 20; i++ {
		history = append(history, session.HistoryEntry{Role: "user", Content: fmt.Sprint(i)})
	}
	s, err := e.Run(context.Background(), session.Request{Query: "status of resource 42", SessionID: "s1", History: history}, nil)
	require.NoError(t, err)
	assert.Len(t, s.History(), session.DefaultHistoryLimit)
}

// slowExecutor blocks until released, to observe serialization.
type slowExecutor struct {
	mu      sync.Mutex
	running int
	max     int
	release chan struct{}
}

func (x *slowExecutor) ExecutePlan(ctx context.Context, calls []session.ToolCall, stage session.Stage) []session.ToolResult {
	x.mu.Lock()
	x.running++
	if x.running > x.max {
		x.max = x.running
	}
	x.mu.Unlock()

	select {
	case <-x.release:
	case <-time.After(50 * time.Millisecond):
	}

	x.mu.Lock()
	x.running--
	x.mu.Unlock()
	out := make([]session.ToolResult, len(calls))
	for i, c := range calls {
		out[i] = session.ToolResult{ToolName: c.Name, Success: true, Stage: stage}
	}
	return out
}

func TestRun_SameSessionIsSerialized(t *testing.T) {
	x := &slowExecutor{release: make(chan struct{})}
	h := newHarness(t, func(d *Deps) { d.Executor = x })

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.Run(context.Background(), session.Request{
				Query:     fmt.Sprintf("status of resource %d", 100+i),
				SessionID: "shared",
			}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, x.max)
	cp, err := h.store.GetCheckpoint(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.TurnCount)
	assert.Len(t, cp.History, 6)
}

func TestRun_DeleteSession(t *testing.T) {
	h := newHarness(t, nil)
	h.run(t, "status of resource 42", "s1", nil)

	require.NoError(t, h.engine.DeleteSession(context.Background(), "s1"))
	_, err := h.engine.Session(context.Background(), "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// gateExecutor holds every plan until gate closes.
type gateExecutor struct {
	mu      sync.Mutex
	running int
	max     int
	started chan struct{}
	gate    chan struct{}
}

func (x *gateExecutor) ExecutePlan(ctx context.Context, calls []session.ToolCall, stage session.Stage) []session.ToolResult {
	x.mu.Lock()
	x.running++
	x.max = max(x.max, x.running)
	x.mu.Unlock()
	x.started <- struct{}{}

	select {
	case <-x.gate:
	case <-ctx.Done():
	}

	x.mu.Lock()
	x.running--
	x.mu.Unlock()
	out := make([]session.ToolResult, len(calls))
	for i, c := range calls {
		out[i] = session.ToolResult{ToolName: c.Name, Success: true, Stage: stage}
	}
	return out
}

func (x *gateExecutor) peak() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.max
}

func TestRun_DeleteDuringTurnKeepsSessionSerialized(t *testing.T) {
	x := &gateExecutor{started: make(chan struct{}, 4), gate: make(chan struct{})}
	h := newHarness(t, func(d *Deps) { d.Executor = x })
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := h.engine.Run(ctx, session.Request{Query: "status of resource 42", SessionID: "s1"}, nil)
		first <- err
	}()
	select {
	case <-x.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first turn never reached execute")
	}

	require.NoError(t, h.engine.DeleteSession(ctx, "s1"))

	second := make(chan session.State, 1)
	go func() {
		s, err := h.engine.Run(ctx, session.Request{Query: "status of resource 43", SessionID: "s1"}, nil)
		assert.NoError(t, err)
		second <- s
	}()
	select {
	case <-x.started:
		t.Fatal("second turn started while the first was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(x.gate)
	require.NoError(t, <-first)
	s := <-second
	assert.Equal(t, session.StatusCompleted, s.Status())
	assert.Equal(t, 1, x.peak())

	// Only the turn started after the delete is checkpointed.
	cp, err := h.store.GetCheckpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.TurnCount)
	require.Len(t, cp.History, 2)
	assert.Equal(t, "status of resource 43", cp.History[0].Content)
}

func TestRun_DeleteDuringTurnDoesNotRestoreCheckpoint(t *testing.T) {
	x := &gateExecutor{started: make(chan struct{}, 4), gate: make(chan struct{})}
	h := newHarness(t, func(d *Deps) { d.Executor = x })
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.Run(ctx, session.Request{Query: "status of resource 42", SessionID: "s1"}, nil)
		done <- err
	}()
	<-x.started
	require.NoError(t, h.engine.DeleteSession(ctx, "s1"))
	close(x.gate)
	require.NoError(t, <-done)

	_, err := h.store.GetCheckpoint(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChannelSink(t *testing.T) {
	ch := make(chan Event, 4)
	sink := NewChannelSink(context.Background(), ch)
	sink.ToolsStarting(ToolBatch{Names: []string{"a"}, Count: 1})
	sink.Token("hi")
	sink.Completed(Completion{Status: session.StatusCompleted})

	assert.Equal(t, EventTypeTools, (<-ch).Type)
	assert.Equal(t, "hi", (<-ch).Token)
	assert.Equal(t, session.StatusCompleted, (<-ch).Completion.Status)

	// A reader that went away does not block the writer.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewChannelSink(ctx, make(chan Event)).Token("dropped")
}
