package oracle

import (
	"context"

	"github.com/rs/zerolog"

	"sleuth/internal/session"
	"sleuth/pkg/logger"
)

// Fallback tries Primary and answers from Secondary when it fails. The
// primary error is still returned, marked Recovered, so callers can count it.
type Fallback struct {
	Primary   Oracle
	Secondary Oracle
	log       zerolog.Logger
}

// NewFallback chains primary and secondary.
func NewFallback(primary, secondary Oracle) *Fallback {
	return &Fallback{
		Primary:   primary,
		Secondary: secondary,
		log:       logger.Component("oracle"),
	}
}

func (f *Fallback) Classify(ctx context.Context, in ClassifyInput) (session.Classification, error) {
	c, err := f.Primary.Classify(ctx, in)
	if err == nil {
		return c, nil
	}
	f.log.Warn().Err(err).Msg("classification fell back to heuristic")
	c, serr := f.Secondary.Classify(ctx, in)
	if serr != nil {
		return c, err
	}
	return c, recovered(OpClassify, err)
}

func (f *Fallback) Plan(ctx context.Context, in PlanInput) ([]session.ToolCall, error) {
	plan, err := f.Primary.Plan(ctx, in)
	if err == nil {
		return plan, nil
	}
	f.log.Warn().Err(err).Msg("planning fell back to heuristic")
	plan, serr := f.Secondary.Plan(ctx, in)
	if serr != nil {
		return nil, err
	}
	return plan, recovered(OpPlan, err)
}

// Generate only consults Secondary when Primary fails before emitting any
// token, so a stream is never mixed from two sources.
func (f *Fallback) Generate(ctx context.Context, in AnswerInput, sink TokenSink) (*Answer, error) {
	emitted := false
	tracked := func(tok string) {
		emitted = true
		if sink != nil {
			sink(tok)
		}
	}
	ans, err := f.Primary.Generate(ctx, in, tracked)
	if err == nil || emitted {
		return ans, err
	}
	ans, serr := f.Secondary.Generate(ctx, in, sink)
	if serr != nil {
		return nil, err
	}
	return ans, recovered(OpGenerate, err)
}

func recovered(op string, err error) error {
	return &OracleError{Op: op, Err: unwrapOracle(err), Recovered: true}
}

func unwrapOracle(err error) error {
	if oe, ok := err.(*OracleError); ok {
		return oe.Err
	}
	return err
}
