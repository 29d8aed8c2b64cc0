// Package invoker executes tool calls against the tool service with
// parameter validation, bounded retries and per-call deadlines.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"sleuth/internal/metrics"
	"sleuth/internal/session"
	"sleuth/internal/toolservice"
	"sleuth/pkg/logger"
)

const tracerName = "sleuth/invoker"

// Defaults applied by New for zero config values.
const (
	DefaultMaxAttempts = 2
	DefaultCallTimeout = 60 * time.Second
)

// Backoff is an exponential delay between attempts. A zero InitialDelay
// retries immediately.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextDelay returns the wait before retry number retry (0-indexed).
func (b Backoff) NextDelay(retry int) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	if retry < 0 {
		retry = 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(retry))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	return time.Duration(delay)
}

// Config configures an Invoker.
type Config struct {
	MaxAttempts int
	CallTimeout time.Duration
	Backoff     Backoff
	// Concurrency > 1 runs plans on a bounded pool; results keep plan order.
	Concurrency int
}

// SchemaSource resolves a tool's input schema for coercion.
type SchemaSource interface {
	Lookup(ctx context.Context, name string) (toolservice.Tool, bool)
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithSchemas sets where input schemas come from. By default the service
// itself is used when it implements SchemaSource.
func WithSchemas(src SchemaSource) Option {
	return func(i *Invoker) { i.schemas = src }
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(i *Invoker) { i.log = l }
}

// WithClock sets the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Invoker) { i.now = now }
}

// Invoker runs tool calls. It is safe for concurrent use.
type Invoker struct {
	svc     toolservice.Service
	schemas SchemaSource
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Invoker over svc.
func New(svc toolservice.Service, cfg Config, opts ...Option) *Invoker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	i := &Invoker{
		svc:   svc,
		cfg:   cfg,
		log:   logger.Component("invoker"),
		now:   time.Now,
		sleep: sleepCtx,
	}
	if src, ok := svc.(SchemaSource); ok {
		i.schemas = src
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Config returns the effective configuration.
func (i *Invoker) Config() Config {
	return i.cfg
}

// Invoke executes one call and always returns a result record.
func (i *Invoker) Invoke(ctx context.Context, call session.ToolCall, stage session.Stage) session.ToolResult {
	start := i.now()
	res := session.ToolResult{
		ToolName:  call.Name,
		Params:    call.Params,
		Stage:     stage,
		Timestamp: start,
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "invoker.Invoke",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("stage", string(stage)),
		),
	)
	defer span.End()

	if verr := Validate(call.Name, call.Params); verr != nil {
		res.Error = verr.Error()
		res.ErrorKind = session.ErrorKindValidation
		res.Duration = i.now().Sub(start)
		span.SetStatus(codes.Error, verr.Error())
		metrics.ToolCalls.WithLabelValues(call.Name, metrics.OutcomeValidation).Inc()
		i.log.Warn().Str("tool", call.Name).Str("param", verr.Param).Msg("tool call rejected before execution")
		return res
	}

	params := i.coerce(ctx, call)
	res.Params = params

	payload, attempts, err := i.attempt(ctx, call.Name, params)
	res.Attempts = attempts
	res.Duration = i.now().Sub(start)
	metrics.ToolCallDuration.WithLabelValues(call.Name).Observe(res.Duration.Seconds())
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err != nil {
		terr := &TransportError{Tool: call.Name, Attempts: attempts, Err: err}
		res.Error = terr.Err.Error()
		res.ErrorKind = session.ErrorKindTransport
		span.RecordError(terr)
		span.SetStatus(codes.Error, res.Error)
		metrics.ToolCalls.WithLabelValues(call.Name, metrics.OutcomeFailure).Inc()
		i.log.Error().Err(err).Str("tool", call.Name).Int("attempts", attempts).Msg("tool call failed")
		return res
	}

	res.Success = true
	res.Payload = payload
	metrics.ToolCalls.WithLabelValues(call.Name, metrics.OutcomeSuccess).Inc()
	i.log.Debug().Str("tool", call.Name).Int("attempts", attempts).Dur("duration", res.Duration).Msg("tool call succeeded")
	return res
}

// attempt runs the call up to MaxAttempts times and returns the payload of
// the first success or the last failure.
func (i *Invoker) attempt(ctx context.Context, name string, params map[string]any) (any, int, error) {
	var lastErr error
	attempts := 0
	for n := 0; n < i.cfg.MaxAttempts; n++ {
		if n > 0 {
			metrics.ToolRetries.Inc()
			if err := i.sleep(ctx, i.cfg.Backoff.NextDelay(n-1)); err != nil {
				return nil, attempts, err
			}
		}
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return nil, attempts, err
		}

		attempts++
		payload, err := i.once(ctx, name, params)
		if err == nil {
			return payload, attempts, nil
		}
		lastErr = err
		if n < i.cfg.MaxAttempts-1 {
			i.log.Warn().Err(err).Str("tool", name).Int("attempt", attempts).Msg("tool call attempt failed, retrying")
		}
	}
	return nil, attempts, lastErr
}

func (i *Invoker) once(ctx context.Context, name string, params map[string]any) (any, error) {
	callCtx, cancel := context.WithTimeout(ctx, i.cfg.CallTimeout)
	defer cancel()

	res, err := i.svc.Execute(callCtx, name, params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("timed out after %s: %w", i.cfg.CallTimeout, err)
		}
		return nil, err
	}
	if res == nil {
		return nil, &remoteFailure{msg: "empty response"}
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return nil, &remoteFailure{msg: msg}
	}
	return res.Payload, nil
}

func (i *Invoker) coerce(ctx context.Context, call session.ToolCall) map[string]any {
	var schema json.RawMessage
	if i.schemas != nil {
		if tool, ok := i.schemas.Lookup(ctx, call.Name); ok {
			schema = tool.InputSchema
		}
	}
	return toolservice.Coerce(schema, call.Params)
}

// ExecutePlan runs calls and returns one result per call in plan order. A
// failing call never stops the others.
func (i *Invoker) ExecutePlan(ctx context.Context, calls []session.ToolCall, stage session.Stage) []session.ToolResult {
	results := make([]session.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	if i.cfg.Concurrency <= 1 || len(calls) == 1 {
		for idx, call := range calls {
			results[idx] = i.Invoke(ctx, call, stage)
		}
		return results
	}

	// Invoke never fails, so the group only bounds concurrency.
	g := new(errgroup.Group)
	g.SetLimit(i.cfg.Concurrency)
	for idx, call := range calls {
		g.Go(func() error {
			results[idx] = i.Invoke(ctx, call, stage)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
