// Package cron runs housekeeping jobs on robfig/cron schedules.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"sleuth/pkg/logger"
)

// parser accepts 5-field, 6-field (with seconds) and descriptor schedules.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs housekeeping jobs with robfig/cron. Executions of one job
// never overlap and a panicking job does not take the scheduler down.
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	jobs    map[string]*Job
	history *History
	log     zerolog.Logger
	mu      sync.RWMutex
	running bool

	// executing tracks jobs currently running, including RunNow calls.
	executing sync.Map
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler in the local time zone.
func NewScheduler() *Scheduler {
	log := logger.Component("cron")
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		entries: make(map[string]cron.EntryID),
		jobs:    make(map[string]*Job),
		history: NewHistory(20),
		log:     log,
		sleep:   sleepCtx,
	}
}

// Add validates and registers a job.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return &InvalidScheduleError{Schedule: job.Schedule, Message: "name and run function are required"}
	}
	if _, err := parser.Parse(job.Schedule); err != nil {
		return &InvalidScheduleError{Schedule: job.Schedule, Message: err.Error()}
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultJobTimeout
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}

	j := &job
	id, err := s.cron.AddFunc(job.Schedule, func() {
		if err := s.execute(context.Background(), j); err != nil && !errors.Is(err, ErrJobRunning) {
			s.log.Error().Err(err).Str("job_name", j.Name).Msg("job execution failed")
		}
	})
	if err != nil {
		return &InvalidScheduleError{Schedule: job.Schedule, Message: err.Error()}
	}
	s.jobs[job.Name] = j
	s.entries[job.Name] = id
	s.log.Info().Str("job_name", job.Name).Str("schedule", job.Schedule).Msg("job added")
	return nil
}

// Remove unregisters a job.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	delete(s.jobs, name)
	return nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.log.Info().Int("jobs", len(s.entries)).Msg("scheduler started")
}

// Stop stops scheduling and returns a context done once running jobs end.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	s.running = false
	s.log.Info().Msg("scheduler stopped")
	return s.cron.Stop()
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.execute(ctx, job)
}

// Jobs lists registered jobs by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for name, job := range s.jobs {
		info := JobInfo{Name: name, Schedule: job.Schedule}
		if entry := s.cron.Entry(s.entries[name]); !entry.Next.IsZero() {
			next := entry.Next
			info.NextRun = &next
		}
		if last, ok := s.history.Last(name); ok {
			info.LastRun = &last
		}
		_, info.Running = s.executing.Load(name)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns the recorded runs of a job, newest first.
func (s *Scheduler) History(name string) []Run {
	return s.history.List(name)
}

// execute runs job with its retry policy and records the outcome.
func (s *Scheduler) execute(ctx context.Context, job *Job) (err error) {
	if _, loaded := s.executing.LoadOrStore(job.Name, time.Now()); loaded {
		s.log.Warn().Str("job_name", job.Name).Msg("skipping overlapping execution, previous run still active")
		return ErrJobRunning
	}
	defer s.executing.Delete(job.Name)

	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	run := Run{JobName: job.Name, StartedAt: time.Now(), Status: RunStatusSuccess}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		run.Duration = time.Since(run.StartedAt)
		if err != nil {
			run.Status = RunStatusFailed
			run.Error = err.Error()
			err = &ExecutionFailedError{JobName: job.Name, RetryCount: run.RetryCount, Cause: err}
		}
		s.history.Add(run)
	}()

	s.log.Debug().Str("job_name", job.Name).Msg("executing job")
	for attempt := 0; ; attempt++ {
		err = job.Run(ctx)
		if !job.Retry.ShouldRetry(attempt, err) {
			break
		}
		run.RetryCount++
		s.log.Warn().Err(err).Str("job_name", job.Name).Int("attempt", attempt+1).Msg("job failed, retrying")
		if serr := s.sleep(ctx, job.Retry.NextDelay(attempt)); serr != nil {
			break
		}
	}
	if err == nil {
		s.log.Debug().Str("job_name", job.Name).Msg("job execution completed")
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
