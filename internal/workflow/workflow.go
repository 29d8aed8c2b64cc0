// Package workflow runs a conversation turn through its fixed stages:
// start, analyze, execute, check_expansion, expand_and_execute, enrich and
// finish. Turns of one session are serialized; sessions run in parallel.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"sleuth/internal/metrics"
	"sleuth/internal/oracle"
	"sleuth/internal/respond"
	"sleuth/internal/scheduler"
	"sleuth/internal/session"
	"sleuth/internal/storage"
	"sleuth/internal/toolservice"
	"sleuth/pkg/logger"
)

const tracerName = "sleuth/workflow"

// saveTimeout bounds the checkpoint write after the turn's own deadline.
const saveTimeout = 5 * time.Second

// Sentinel errors for the workflow package.
var (
	ErrMissingDependency = errors.New("workflow: missing dependency")
	ErrBusy              = errors.New("workflow: session has too many pending turns")
)

// Catalog lists the tools a turn may plan with.
type Catalog interface {
	ListTools(ctx context.Context) ([]toolservice.Tool, error)
}

// Executor runs tool plans.
type Executor interface {
	ExecutePlan(ctx context.Context, calls []session.ToolCall, stage session.Stage) []session.ToolResult
}

// Assembler produces the final answer of a turn.
type Assembler interface {
	Assemble(ctx context.Context, state session.State, sink oracle.TokenSink) (respond.Result, error)
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Oracle oracle.Oracle
	// Heuristic replaces the Oracle's output when it fails without having
	// recovered on its own. Defaults to oracle.NewHeuristic().
	Heuristic oracle.Oracle
	Catalog   Catalog
	Executor  Executor
	Assembler Assembler
	Store     storage.Checkpointer
}

// Engine runs turns.
type Engine struct {
	deps  Deps
	cfg   Config
	queue *scheduler.RunQueue
	log   zerolog.Logger
	now   func() time.Time

	// saveMu orders checkpoint saves against deletes. deletions counts the
	// deletes per session; a turn saves only if the count did not move.
	saveMu    sync.Mutex
	deletions map[string]uint64
}

// New creates an Engine.
func New(deps Deps, cfg Config) (*Engine, error) {
	switch {
	case deps.Oracle == nil:
		return nil, fmt.Errorf("%w: oracle", ErrMissingDependency)
	case deps.Catalog == nil:
		return nil, fmt.Errorf("%w: catalog", ErrMissingDependency)
	case deps.Executor == nil:
		return nil, fmt.Errorf("%w: executor", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: checkpoint store", ErrMissingDependency)
	}
	if deps.Heuristic == nil {
		deps.Heuristic = oracle.NewHeuristic()
	}
	if deps.Assembler == nil {
		deps.Assembler = respond.New(deps.Oracle)
	}
	cfg = cfg.normalized()
	return &Engine{
		deps:  deps,
		cfg:   cfg,
		queue: scheduler.NewRunQueue(cfg.QueueSize, cfg.IdleTimeout),
		log:   logger.Component("workflow"),
		now:   time.Now,

		deletions: make(map[string]uint64),
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run executes one turn and returns its final state. A turn that ran always
// comes back with a nil error, including turns whose request was rejected
// (status failed); the error is reserved for turns that never ran because
// ctx ended or the session's queue is full.
func (e *Engine) Run(ctx context.Context, req session.Request, sink Sink) (session.State, error) {
	if sink == nil {
		sink = NopSink{}
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	out := make(chan session.State, 1)
	err := e.queue.Do(ctx, req.SessionID, func(ctx context.Context) error {
		out <- e.turn(ctx, req, sink)
		return nil
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrQueueFull) {
			err = ErrBusy
		}
		return session.State{}, fmt.Errorf("run turn for session %s: %w", req.SessionID, err)
	}
	return <-out, nil
}

// ActiveSessions returns the number of sessions with a live turn worker.
func (e *Engine) ActiveSessions() int {
	return e.queue.ActiveSessions()
}

// Session returns the stored checkpoint of a session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*storage.Checkpoint, error) {
	return e.deps.Store.GetCheckpoint(ctx, sessionID)
}

// Turns returns the newest turn records of a session.
func (e *Engine) Turns(ctx context.Context, sessionID string, limit int) ([]*storage.Turn, error) {
	return e.deps.Store.ListTurns(ctx, sessionID, limit)
}

// DeleteSession drops waiting turns of the session and its checkpoint. A
// turn still running finishes without saving; later turns start fresh once
// it is done.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	e.queue.Cancel(sessionID)

	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	e.deletions[sessionID]++
	return e.deps.Store.DeleteCheckpoint(ctx, sessionID)
}

func (e *Engine) deletionCount(sessionID string) uint64 {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	return e.deletions[sessionID]
}

// Shutdown stops accepting turns and waits for running ones.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.queue.Shutdown(ctx)
}

// turnRun carries what the stages of one turn share.
type turnRun struct {
	sink Sink
	log  zerolog.Logger
	// deletions is the session's delete count when the turn started.
	deletions uint64
}

func (e *Engine) turn(ctx context.Context, req session.Request, sink Sink) session.State {
	started := e.now()
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "workflow.Turn",
		trace.WithAttributes(
			attribute.String("session.id", req.SessionID),
			attribute.String("request.id", req.RequestID),
		))
	defer span.End()

	t := &turnRun{
		sink: sink,
		log: e.log.With().
			Str("session_id", req.SessionID).
			Str("request_id", req.RequestID).
			Logger(),
		deletions: e.deletionCount(req.SessionID),
	}

	s, verr := session.New(req,
		session.WithMaxQueryLength(e.cfg.MaxQueryLength),
		session.WithHistoryLimit(e.cfg.HistoryLimit),
		session.WithClock(e.now),
	)
	s = e.stage(ctx, t, s, session.StageStart, func(ctx context.Context, t *turnRun, s session.State) session.State {
		return e.start(ctx, t, s, verr)
	})
	if s.Status() != session.StatusFailed {
		s = e.stage(ctx, t, s, session.StageAnalyze, e.analyze)
		s = e.stage(ctx, t, s, session.StageExecute, e.execute)
		s = e.stage(ctx, t, s, session.StageCheckExpansion, e.checkExpansion)
		s = e.stage(ctx, t, s, session.StageExpand, e.expand)
		s = e.stage(ctx, t, s, session.StageEnrich, e.enrich)
	}
	s = e.stage(ctx, t, s, session.StageFinish, e.finish)
	if s.CompletedAt().IsZero() {
		// finish itself failed; stamp the turn so it still ends.
		s = s.Finish()
	}

	elapsed := e.now().Sub(started)
	metrics.Turns.WithLabelValues(string(s.Status())).Inc()
	metrics.TurnDuration.Observe(elapsed.Seconds())

	span.SetAttributes(
		attribute.String("turn.status", string(s.Status())),
		attribute.Int("turn.errors", s.ErrorCount()),
		attribute.Int("turn.tools", len(s.Results())),
	)
	if s.Status() == session.StatusFailed {
		span.SetStatus(codes.Error, "turn failed")
	}

	t.log.Info().
		Str("status", string(s.Status())).
		Str("query_type", s.Classification().QueryType).
		Int("tools", len(s.Results())).
		Int("errors", s.ErrorCount()).
		Dur("duration", elapsed).
		Msg("turn finished")

	t.sink.Completed(Completion{
		ForwardLinks:  s.Enrichment().ForwardLinks,
		ExecutedTools: s.ExecutedTools(),
		Status:        s.Status(),
	})
	return s
}

type stageFunc func(ctx context.Context, t *turnRun, s session.State) session.State

// stage runs fn under its own span. A panic is recovered, counted as an
// error and leaves the turn degraded (failed before it started running).
func (e *Engine) stage(ctx context.Context, t *turnRun, s session.State, name session.Stage, fn stageFunc) (out session.State) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "workflow."+string(name))
	defer span.End()

	s = s.WithStage(name)
	defer func() {
		if rec := recover(); rec != nil {
			t.log.Error().
				Str("stage", string(name)).
				Interface("panic", rec).
				Msg("PANIC in workflow stage")
			span.SetStatus(codes.Error, "panic")
			out = degrade(s.IncrementErrors(fmt.Sprintf("internal error in %s: %v", name, rec)))
		}
	}()

	out = fn(ctx, t, s)
	span.SetAttributes(attribute.String("turn.status", string(out.Status())))
	return out
}

// degrade marks s degraded, or failed when it never started running.
func degrade(s session.State) session.State {
	to := session.StatusDegraded
	if s.Status() == session.StatusInitialized {
		to = session.StatusFailed
	}
	if next, err := s.WithStatus(to); err == nil {
		return next
	}
	return s
}
