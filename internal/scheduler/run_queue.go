package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sleuth/pkg/logger"
)

// Task is a unit of work queued for a session.
type Task struct {
	SessionID string
	Fn        func(context.Context) error
	Ctx       context.Context
	Cancel    context.CancelFunc
	Result    chan error
}

// sessionQueue holds the pending tasks of one session.
type sessionQueue struct {
	tasks     chan *Task
	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
	// done closes when the worker exits.
	done chan struct{}
	// prev is the done channel of a cancelled queue of the same session
	// whose task may still be running.
	prev <-chan struct{}
}

func (sq *sessionQueue) close() {
	sq.closed.Store(true)
	sq.closeOnce.Do(func() { close(sq.closeCh) })
}

// RunQueue provides per-session FIFO execution queues. Tasks of one session
// run serially; different sessions run in parallel. A session's worker exits
// after idleTimeout without work.
type RunQueue struct {
	queues      map[string]*sessionQueue
	mu          sync.Mutex
	wg          sync.WaitGroup
	closed      atomic.Bool
	running     atomic.Int64
	idleTimeout time.Duration
	queueSize   int
}

// NewRunQueue creates a RunQueue allowing queueSize waiting tasks per session.
func NewRunQueue(queueSize int, idleTimeout time.Duration) *RunQueue {
	if queueSize <= 0 {
		queueSize = 100
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	return &RunQueue{
		queues:      make(map[string]*sessionQueue),
		queueSize:   queueSize,
		idleTimeout: idleTimeout,
	}
}

// Enqueue adds fn to the session's queue and returns a channel that receives
// its error once it ran.
func (rq *RunQueue) Enqueue(ctx context.Context, sessionID string, fn func(context.Context) error) (<-chan error, error) {
	if rq.closed.Load() {
		return nil, ErrShutdown
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		SessionID: sessionID,
		Fn:        fn,
		Ctx:       taskCtx,
		Cancel:    cancel,
		Result:    make(chan error, 1),
	}

	// The lock keeps an idle worker from exiting between lookup and send.
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if rq.closed.Load() {
		cancel()
		return nil, ErrShutdown
	}

	sq := rq.getOrCreateQueueLocked(sessionID)
	select {
	case sq.tasks <- task:
		return task.Result, nil
	default:
		cancel()
		return nil, ErrQueueFull
	}
}

// Do enqueues fn and waits for it. It returns early with ctx's error when
// ctx ends first; fn then still runs, with a cancelled context.
func (rq *RunQueue) Do(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	result, err := rq.Enqueue(ctx, sessionID, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// getOrCreateQueueLocked returns the open queue of a session. A cancelled
// queue is replaced by one whose worker starts after the old worker exits.
func (rq *RunQueue) getOrCreateQueueLocked(sessionID string) *sessionQueue {
	old, ok := rq.queues[sessionID]
	if ok && !old.closed.Load() {
		return old
	}
	sq := &sessionQueue{
		tasks:   make(chan *Task, rq.queueSize),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if ok {
		sq.prev = old.done
	}
	rq.queues[sessionID] = sq

	rq.wg.Add(1)
	go rq.worker(sessionID, sq)
	return sq
}

// worker processes tasks for a session queue.
func (rq *RunQueue) worker(sessionID string, sq *sessionQueue) {
	defer rq.wg.Done()
	defer close(sq.done)
	defer rq.forget(sessionID, sq)

	if sq.prev != nil {
		select {
		case <-sq.prev:
		case <-sq.closeCh:
			// done must not close before prev, or a successor of this
			// queue could start next to the older running task.
			rq.drain(sq)
			<-sq.prev
			return
		}
	}

	idleTimer := time.NewTimer(rq.idleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case task := <-sq.tasks:
			if sq.closed.Load() {
				rq.fail(task)
				continue
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			rq.execute(task)
			idleTimer.Reset(rq.idleTimeout)

		case <-idleTimer.C:
			rq.mu.Lock()
			if len(sq.tasks) > 0 {
				rq.mu.Unlock()
				idleTimer.Reset(rq.idleTimeout)
				continue
			}
			sq.close()
			rq.mu.Unlock()
			return

		case <-sq.closeCh:
			rq.drain(sq)
			return
		}
	}
}

func (rq *RunQueue) execute(task *Task) {
	defer task.Cancel()

	// A task whose caller already gave up is not started.
	if err := task.Ctx.Err(); err != nil {
		task.Result <- err
		close(task.Result)
		return
	}

	rq.running.Add(1)
	defer rq.running.Add(-1)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log := logger.Component("scheduler")
				log.Error().
					Str("session_id", task.SessionID).
					Interface("panic", r).
					Msg("task panicked")
				err = fmt.Errorf("%w: %v", ErrRunPanicked, r)
			}
		}()
		err = task.Fn(task.Ctx)
	}()
	task.Result <- err
	close(task.Result)
}

// drain fails the tasks still waiting in a closed queue.
func (rq *RunQueue) drain(sq *sessionQueue) {
	for {
		select {
		case task := <-sq.tasks:
			rq.fail(task)
		default:
			return
		}
	}
}

func (rq *RunQueue) fail(task *Task) {
	task.Cancel()
	task.Result <- ErrSessionClosed
	close(task.Result)
}

// forget removes sq from the session map unless a successor replaced it.
func (rq *RunQueue) forget(sessionID string, sq *sessionQueue) {
	rq.mu.Lock()
	if rq.queues[sessionID] == sq {
		delete(rq.queues, sessionID)
	}
	rq.mu.Unlock()
}

// Cancel fails a session's waiting tasks and stops its worker. A task
// already running is left to finish; tasks enqueued afterwards start only
// once it has.
func (rq *RunQueue) Cancel(sessionID string) {
	rq.mu.Lock()
	sq, ok := rq.queues[sessionID]
	if ok {
		sq.close()
	}
	rq.mu.Unlock()
}

// Pending returns the number of waiting tasks for a session.
func (rq *RunQueue) Pending(sessionID string) int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if sq, ok := rq.queues[sessionID]; ok {
		return len(sq.tasks)
	}
	return 0
}

// ActiveSessions returns the number of sessions with a live worker.
func (rq *RunQueue) ActiveSessions() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.queues)
}

// Running returns the number of tasks executing right now.
func (rq *RunQueue) Running() int {
	return int(rq.running.Load())
}

// Shutdown stops accepting work, fails waiting tasks and waits for running
// ones until ctx ends.
func (rq *RunQueue) Shutdown(ctx context.Context) error {
	rq.closed.Store(true)

	rq.mu.Lock()
	for id, sq := range rq.queues {
		sq.close()
		delete(rq.queues, id)
	}
	rq.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rq.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
