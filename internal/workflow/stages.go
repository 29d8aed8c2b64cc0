package workflow

import (
	"context"
	"errors"
	"fmt"

	"sleuth/internal/extract"
	"sleuth/internal/followup"
	"sleuth/internal/metrics"
	"sleuth/internal/oracle"
	"sleuth/internal/session"
	"sleuth/internal/storage"
	"sleuth/internal/toolservice"
)

// start restores the session history, validates the request and snapshots
// the tool catalog. A rejected request fails the turn here.
func (e *Engine) start(ctx context.Context, t *turnRun, s session.State, verr error) session.State {
	history, err := e.deps.Store.LoadHistory(ctx, s.SessionID())
	if err != nil {
		t.log.Warn().Err(err).Msg("failed to restore history")
	} else if len(history) > 0 {
		s = s.WithHistory(history)
	}

	var invalid *session.StateValidationError
	if errors.As(verr, &invalid) {
		t.log.Warn().Strs("violations", invalid.Violations).Msg("request rejected")
		s = s.WithErrorCount(len(invalid.Violations), invalid.Violations...)
		s = s.WithAnswer(invalid.Error())
		s, _ = s.WithStatus(session.StatusFailed)
		return s
	}

	tools, err := e.deps.Catalog.ListTools(ctx)
	if err != nil || len(tools) == 0 {
		t.log.Warn().Err(err).Msg("tool catalog unavailable, using fallback catalog")
		tools = toolservice.FallbackCatalog()
	}
	s = s.WithCatalog(tools)

	s, _ = s.WithStatus(session.StatusRunning)
	t.log.Debug().
		Int("history", len(s.History())).
		Int("catalog", len(tools)).
		Msg("turn started")
	return s
}

// analyze classifies the query and plans the first tool calls.
func (e *Engine) analyze(ctx context.Context, t *turnRun, s session.State) session.State {
	cin := oracle.ClassifyInput{Query: s.Query(), Catalog: s.Catalog(), History: s.History()}
	c, err := e.deps.Oracle.Classify(ctx, cin)
	if err != nil {
		s = e.oracleFailure(t, s, oracle.OpClassify, err)
		if !oracle.IsRecovered(err) {
			c, _ = e.deps.Heuristic.Classify(ctx, cin)
		}
	}
	s = s.WithClassification(c)

	pin := oracle.PlanInput{Query: s.Query(), Classification: c, Catalog: s.Catalog(), History: s.History()}
	plan, err := e.deps.Oracle.Plan(ctx, pin)
	if err != nil {
		s = e.oracleFailure(t, s, oracle.OpPlan, err)
		if !oracle.IsRecovered(err) {
			plan, _ = e.deps.Heuristic.Plan(ctx, pin)
		}
	}
	s = s.WithPlan(plan)

	t.log.Debug().
		Str("query_type", c.QueryType).
		Float64("confidence", c.Confidence).
		Strs("plan", callNames(plan)).
		Msg("query analyzed")
	return s
}

// execute runs the initial plan. An empty plan passes through.
func (e *Engine) execute(ctx context.Context, t *turnRun, s session.State) session.State {
	plan := s.Plan()
	if len(plan) == 0 {
		t.log.Debug().Msg("empty plan, skipping execution")
		return s
	}
	names := callNames(plan)
	t.sink.ToolsStarting(ToolBatch{Names: names, Count: len(names), Phase: PhasePrimary})
	return s.AppendResults(e.deps.Executor.ExecutePlan(ctx, plan, session.StageExecute)...)
}

// checkExpansion extracts identifiers and decides on a follow-up plan.
func (e *Engine) checkExpansion(ctx context.Context, t *turnRun, s session.State) session.State {
	if len(s.Plan()) == 0 {
		return s
	}
	s = s.WithIdentifiers(extract.Identifiers(s.Results()))

	d := followup.Decide(s)
	if !d.Expand {
		t.log.Debug().Str("reason", d.Reason).Msg("no follow-up")
		return s
	}
	next, err := s.WithFollowup(followup.BuildPlan(s.Identifiers()))
	if err != nil {
		t.log.Warn().Err(err).Msg("follow-up plan rejected")
		return s
	}
	t.log.Debug().
		Str("reason", d.Reason).
		Strs("plan", callNames(next.FollowupPlan())).
		Msg("follow-up planned")
	return next
}

// expand runs a pending follow-up plan. Nothing pending passes through.
func (e *Engine) expand(ctx context.Context, t *turnRun, s session.State) session.State {
	if !s.FollowupPending() {
		return s
	}
	plan := s.FollowupPlan()
	names := callNames(plan)
	t.sink.ToolsStarting(ToolBatch{Names: names, Count: len(names), Phase: PhaseFollowup})

	results := e.deps.Executor.ExecutePlan(ctx, plan, session.StageExpand)
	metrics.FollowupExpansions.Inc()
	return s.AppendResults(results...).MergeFollowup()
}

// enrich assembles the answer, streaming it to the sink.
func (e *Engine) enrich(ctx context.Context, t *turnRun, s session.State) session.State {
	res, err := e.deps.Assembler.Assemble(ctx, s, t.sink.Token)
	s = s.WithAnswer(res.Text).WithEnrichment(res.Enrichment)
	switch {
	case err == nil:
	case errors.Is(err, oracle.ErrNarrativeUnavailable):
		// An oracle without a narrative model answers with the summary.
		t.log.Debug().Msg("narrative unavailable, answered with summary")
	default:
		s = e.oracleFailure(t, s, oracle.OpGenerate, err)
	}
	return s
}

// finish folds the exchange into history and checkpoints the session.
// Rejected requests, and sessions deleted while the turn ran, leave the
// checkpoint untouched.
func (e *Engine) finish(ctx context.Context, t *turnRun, s session.State) session.State {
	rejected := s.Status() == session.StatusFailed
	s = s.Finish()
	if rejected {
		return s
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if e.deletions[s.SessionID()] != t.deletions {
		t.log.Info().Msg("session deleted during turn, checkpoint not saved")
		return s
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := e.deps.Store.SaveTurn(saveCtx, storage.RecordFromState(s)); err != nil {
		t.log.Error().Err(err).Msg("failed to save checkpoint")
	}
	return s
}

func (e *Engine) oracleFailure(t *turnRun, s session.State, op string, err error) session.State {
	metrics.OracleFailures.WithLabelValues(op).Inc()
	t.log.Warn().Err(err).Str("op", op).Bool("recovered", oracle.IsRecovered(err)).Msg("oracle failure")
	return degrade(s.IncrementErrors(fmt.Sprintf("%s: %v", op, err)))
}

func callNames(plan []session.ToolCall) []string {
	names := make([]string, len(plan))
	for i, c := range plan {
		names[i] = c.Name
	}
	return names
}
