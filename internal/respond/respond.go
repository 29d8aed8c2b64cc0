// Package respond turns a finished execution into the user-facing answer:
// an oracle narrative when one is available, a deterministic summary when
// not, plus forward links, annotations and a quality score.
package respond

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sleuth/internal/metrics"
	"sleuth/internal/oracle"
	"sleuth/internal/session"
	"sleuth/pkg/logger"
)

// historyWindow is how many history entries accompany a narrative request.
const historyWindow = 5

// Result is an assembled answer.
type Result struct {
	Text       string
	Enrichment session.Enrichment
	// Fallback is set when the deterministic summary replaced the narrative.
	Fallback bool
}

// Assembler builds answers.
type Assembler struct {
	oracle oracle.Oracle
	now    func() time.Time
	log    zerolog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithClock sets the clock used for annotation timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// New returns an Assembler narrating through o.
func New(o oracle.Oracle, opts ...Option) *Assembler {
	a := &Assembler{
		oracle: o,
		now:    time.Now,
		log:    logger.Component("respond"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble produces the answer for state, streaming narrative tokens to sink.
// A generation failure is returned alongside a usable fallback Result.
func (a *Assembler) Assemble(ctx context.Context, state session.State, sink oracle.TokenSink) (Result, error) {
	c := state.Classification()
	results := state.Results()

	emitted := false
	forward := func(tok string) {
		emitted = true
		if sink != nil {
			sink(tok)
		}
	}

	var res Result
	ans, genErr := a.oracle.Generate(ctx, oracle.AnswerInput{
		Query:          state.Query(),
		Classification: c,
		Results:        results,
		History:        lastN(state.History(), historyWindow),
	}, forward)

	if ans != nil && ans.Text != "" {
		res.Text = ans.Text
		res.Enrichment.ForwardLinks = ans.ForwardLinks
		res.Enrichment.Recommendations = ans.Recommendations
		res.Enrichment.Insights = ans.Insights
	} else {
		if genErr == nil {
			genErr = &oracle.OracleError{Op: oracle.OpGenerate, Err: oracle.ErrMalformedOutput}
		}
		a.log.Warn().Err(genErr).Str("session_id", state.SessionID()).Msg("narrative unavailable, using summary")
		res.Fallback = true
		res.Text = Summarize(state.Query(), results)
		if !emitted && sink != nil {
			sink(res.Text)
		}
	}

	if len(res.Enrichment.ForwardLinks) == 0 {
		res.Enrichment.ForwardLinks = DefaultForwardLinks(c.QueryType)
	}
	if len(res.Enrichment.Recommendations) == 0 {
		res.Enrichment.Recommendations = DefaultRecommendations()
	}
	res.Enrichment.Annotations = Annotations(state, a.now())
	res.Enrichment.Quality = Quality(res.Enrichment.ForwardLinks, res.Enrichment.Annotations)

	metrics.EnrichmentQuality.Observe(res.Enrichment.Quality)
	a.log.Debug().
		Str("session_id", state.SessionID()).
		Bool("fallback", res.Fallback).
		Int("forward_links", len(res.Enrichment.ForwardLinks)).
		Float64("quality", res.Enrichment.Quality).
		Msg("response assembled")

	return res, genErr
}

func lastN(entries []session.HistoryEntry, n int) []session.HistoryEntry {
	if len(entries) <= n {
		return entries
	}
	return entries[len(entries)-n:]
}
