package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
)

const (
	defaultRetention     = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// LocalOption customizes a LocalQueue.
type LocalOption func(*LocalQueue)

// WithRetention overrides how long terminal jobs stay queryable.
func WithRetention(retention time.Duration) LocalOption {
	return func(q *LocalQueue) { q.retention = retention }
}

// WithClock injects the time source. Tests use it to simulate retention
// expiry without sleeping.
func WithClock(now func() time.Time) LocalOption {
	return func(q *LocalQueue) { q.now = now }
}

// WithSweepInterval overrides the background sweep cadence.
func WithSweepInterval(interval time.Duration) LocalOption {
	return func(q *LocalQueue) { q.sweepInterval = interval }
}

// LocalQueue is the single-process, in-memory queue backend. Job records and
// in-flight execution handles are owned by the queue instance, so multiple
// isolated queues can coexist (notably in tests).
type LocalQueue struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	running map[string]*localExecution

	runner        Runner
	log           *logger.Logger
	retention     time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	runCtx    context.Context
	runCancel context.CancelFunc
	sweepDone chan struct{}
	wg        sync.WaitGroup
}

// localExecution tracks one in-flight run. The cancelled flag is the
// cooperative cancellation channel between Cancel and the runner.
type localExecution struct {
	queue     *LocalQueue
	jobID     string
	cancelled atomic.Bool
}

// UpdateProgress records clamped progress on the job record.
func (e *localExecution) UpdateProgress(value int) {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()

	job, ok := e.queue.jobs[e.jobID]
	if !ok {
		return
	}

	job.Progress = clampProgress(value)
}

// Cancelled reports whether Cancel was called or the queue is shutting down.
func (e *localExecution) Cancelled() bool {
	return e.cancelled.Load() || e.queue.runCtx.Err() != nil
}

// NewLocal creates a local queue executing jobs with the given runner and
// starts the retention sweeper.
func NewLocal(runner Runner, log *logger.Logger, opts ...LocalOption) *LocalQueue {
	runCtx, runCancel := context.WithCancel(context.Background())

	queue := &LocalQueue{
		jobs:          make(map[string]*Job),
		running:       make(map[string]*localExecution),
		runner:        runner,
		log:           log,
		retention:     defaultRetention,
		sweepInterval: defaultSweepInterval,
		now:           time.Now,
		runCtx:        runCtx,
		runCancel:     runCancel,
		sweepDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(queue)
	}

	go queue.sweepLoop()

	return queue
}

// Enqueue returns the existing job unchanged when an execution is already in
// flight for the identity; otherwise it resets the record and launches a new
// run.
func (q *LocalQueue) Enqueue(_ context.Context, storyID, voiceID string, force bool) (Job, error) {
	id := JobID(storyID, voiceID)

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, inFlight := q.running[id]; inFlight {
		return q.snapshotLocked(id), nil
	}

	job, exists := q.jobs[id]
	if !exists {
		job = &Job{
			ID:        id,
			CreatedAt: q.now().UTC(),
		}
		q.jobs[id] = job
	}

	job.State = StateWaiting
	job.Progress = 0
	job.Attempts++
	job.Payload = Payload{StoryID: storyID, VoiceID: voiceID, Force: force}
	job.Result = nil
	job.FailedReason = ""
	job.FinishedAt = nil

	execution := &localExecution{queue: q, jobID: id}
	q.running[id] = execution

	q.wg.Add(1)

	go q.run(execution, job.Payload)

	return q.snapshotLocked(id), nil
}

// Job returns the current snapshot, treating terminal jobs past the
// retention window as gone.
func (q *LocalQueue) Job(_ context.Context, id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %q: %w", id, core.ErrNotFound)
	}

	if q.expiredLocked(job) {
		delete(q.jobs, id)

		return Job{}, fmt.Errorf("job %q: %w", id, core.ErrNotFound)
	}

	return q.snapshotLocked(id), nil
}

// Cancel requests cooperative cancellation of the in-flight run for id. The
// flag is observed at the runner's next checkpoint; an already-started
// provider call is allowed to finish.
func (q *LocalQueue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	execution, inFlight := q.running[id]
	if inFlight {
		execution.cancelled.Store(true)

		return nil
	}

	if _, exists := q.jobs[id]; exists {
		// Nothing running; terminal or waiting records are left as-is.
		return nil
	}

	return fmt.Errorf("job %q: %w", id, core.ErrNotFound)
}

// Close stops the sweeper, flags in-flight runs as cancelled, and waits for
// them to settle.
func (q *LocalQueue) Close() error {
	q.runCancel()
	close(q.sweepDone)
	q.wg.Wait()

	return nil
}

func (q *LocalQueue) run(execution *localExecution, payload Payload) {
	defer q.wg.Done()

	q.mu.Lock()
	if job, ok := q.jobs[execution.jobID]; ok {
		job.State = StateActive
	}
	q.mu.Unlock()

	result, runErr := q.runner.Run(q.runCtx, payload, execution)

	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[execution.jobID]
	if !ok {
		delete(q.running, execution.jobID)

		return
	}

	finished := q.now().UTC()
	job.FinishedAt = &finished

	switch {
	case runErr == nil:
		job.State = StateCompleted
		job.Progress = 100
		resultCopy := result
		job.Result = &resultCopy
	case errors.Is(runErr, ErrCancelled):
		job.State = StateFailed
		job.FailedReason = FailedReasonCancelled
	default:
		job.State = StateFailed
		job.FailedReason = runErr.Error()
	}

	if job.State == StateFailed {
		q.log.Warn("Job %s failed: %s", job.ID, job.FailedReason)
	} else {
		q.log.Info("Job %s completed after %d attempt(s)", job.ID, job.Attempts)
	}

	delete(q.running, execution.jobID)
}

// snapshotLocked copies the record so callers never alias queue-owned state.
// Callers must hold q.mu.
func (q *LocalQueue) snapshotLocked(id string) Job {
	job := q.jobs[id]
	snapshot := *job

	if job.Result != nil {
		resultCopy := *job.Result
		snapshot.Result = &resultCopy
	}

	if job.FinishedAt != nil {
		finishedCopy := *job.FinishedAt
		snapshot.FinishedAt = &finishedCopy
	}

	return snapshot
}

func (q *LocalQueue) expiredLocked(job *Job) bool {
	if !job.State.Terminal() || job.FinishedAt == nil {
		return false
	}

	return q.now().Sub(*job.FinishedAt) > q.retention
}

// sweepLoop bounds memory by dropping terminal jobs past the retention
// window.
func (q *LocalQueue) sweepLoop() {
	ticker := time.NewTicker(q.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.sweepDone:
			return
		case <-ticker.C:
			q.sweep()
		}
	}
}

func (q *LocalQueue) sweep() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, job := range q.jobs {
		if q.expiredLocked(job) {
			delete(q.jobs, id)
		}
	}
}
