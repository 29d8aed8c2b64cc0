package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sleuth/internal/toolservice"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestScheduler() *Scheduler {
	s := NewScheduler()
	s.sleep = noSleep
	return s
}

func TestScheduler_AddValidates(t *testing.T) {
	s := newTestScheduler()

	err := s.Add(Job{Name: "bad", Schedule: "not a schedule", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	err = s.Add(Job{Name: "", Schedule: "@every 1m", Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	job := Job{Name: "ok", Schedule: "@every 1m", Run: func(context.Context) error { return nil }}
	require.NoError(t, s.Add(job))
	assert.ErrorIs(t, s.Add(job), ErrJobExists)

	require.NoError(t, s.Add(Job{Name: "five", Schedule: "*/5 * * * *", Run: job.Run}))
	require.NoError(t, s.Add(Job{Name: "six", Schedule: "0 */5 * * * *", Run: job.Run}))
}

func TestScheduler_RunNowRetries(t *testing.T) {
	s := newTestScheduler()
	var calls atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "flaky",
		Schedule: "@hourly",
		Retry:    RetryPolicy{MaxAttempts: 2},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("temporary")
			}
			return nil
		},
	}))

	require.NoError(t, s.RunNow(context.Background(), "flaky"))
	assert.Equal(t, int32(3), calls.Load())

	runs := s.History("flaky")
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusSuccess, runs[0].Status)
	assert.Equal(t, 2, runs[0].RetryCount)
}

func TestScheduler_NonRetryableAndPanic(t *testing.T) {
	s := newTestScheduler()
	var calls atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "fatal",
		Schedule: "@hourly",
		Retry:    RetryPolicy{MaxAttempts: 3},
		Run: func(context.Context) error {
			calls.Add(1)
			return NonRetryable(errors.New("disk gone"))
		},
	}))
	require.NoError(t, s.Add(Job{
		Name:     "panics",
		Schedule: "@hourly",
		Run:      func(context.Context) error { panic("boom") },
	}))

	err := s.RunNow(context.Background(), "fatal")
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Equal(t, int32(1), calls.Load())

	err = s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrExecutionFailed)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, RunStatusFailed, s.History("panics")[0].Status)

	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrJobNotFound)
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Add(Job{
		Name:     "slow",
		Schedule: "@hourly",
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "slow") }()
	<-started

	assert.ErrorIs(t, s.RunNow(context.Background(), "slow"), ErrJobRunning)
	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].Running)

	close(release)
	require.NoError(t, <-done)
}

func TestScheduler_StartStop(t *testing.T) {
	s := newTestScheduler()
	var calls atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "tick",
		Schedule: "@every 1s",
		Run: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	}))
	s.Start()
	jobs := s.Jobs()
	require.NotNil(t, jobs[0].NextRun)

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	<-s.Stop().Done()
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	require.NoError(t, s.Remove("tick"))
	assert.ErrorIs(t, s.Remove("tick"), ErrJobNotFound)
}

type fakeRefresher struct{ n int }

func (f fakeRefresher) Refresh(context.Context) ([]toolservice.Tool, error) {
	return make([]toolservice.Tool, f.n), nil
}

type fakePruner struct{ cutoff time.Time }

func (f *fakePruner) PruneBefore(_ context.Context, t time.Time) (int64, error) {
	f.cutoff = t
	return 2, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) Health(context.Context) (*toolservice.Health, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &toolservice.Health{Status: "ok", Version: "1.2.0"}, nil
}

func TestBuiltinJobs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePruner{}
	prune := PruneJob("@hourly", p, 24*time.Hour, func() time.Time { return now })
	require.NoError(t, prune.Run(context.Background()))
	assert.Equal(t, now.Add(-24*time.Hour), p.cutoff)

	require.NoError(t, CatalogRefreshJob("@every 5m", fakeRefresher{n: 3}).Run(context.Background()))

	probe := HealthProbeJob("@every 1m", fakeHealth{})
	require.NoError(t, probe.Run(context.Background()))
	probe = HealthProbeJob("@every 1m", fakeHealth{err: errors.New("down")})
	assert.Error(t, probe.Run(context.Background()))

	s := newTestScheduler()
	require.NoError(t, s.Add(prune))
	require.NoError(t, s.Add(probe))
	names := []string{}
	for _, j := range s.Jobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{JobPrune, JobHealthProbe}, names)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, p.NextDelay(0))
	assert.Equal(t, 2*time.Second, p.NextDelay(1))
	assert.Equal(t, 3*time.Second, p.NextDelay(5))

	assert.True(t, p.ShouldRetry(0, errors.New("x")))
	assert.False(t, p.ShouldRetry(2, errors.New("x")))
	assert.False(t, p.ShouldRetry(0, nil))
	assert.False(t, p.ShouldRetry(0, context.Canceled))
	assert.False(t, p.ShouldRetry(0, NonRetryable(errors.New("x"))))
}

func TestHistoryLimit(t *testing.T) {
	h := NewHistory(2)
	for i := 0; i < 3; i++ {
		h.Add(Run{JobName: "j", RetryCount: i})
	}
	runs := h.List("j")
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].RetryCount)
	assert.Equal(t, 1, runs[1].RetryCount)
}
