// Package jobqueue provides the synthesis job queue: a deterministic job
// identity per (story, voice) pair, idempotent enqueue, and two backends with
// identical external semantics - an in-process queue used when no broker is
// configured, and a NATS JetStream backed queue for multi-process deployments.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

// State is the normalized job lifecycle state. Both backends report states
// from this set; broker-native vocabulary never leaks to callers.
type State string

const (
	// StateWaiting means the job is enqueued but no execution has started.
	StateWaiting State = "waiting"
	// StateActive means an execution is in flight.
	StateActive State = "active"
	// StateCompleted means the last run finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the last run failed; FailedReason carries the cause.
	StateFailed State = "failed"
)

// Terminal reports whether the state is completed or failed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailedReasonCancelled is recorded when a run observed its cancellation flag.
const FailedReasonCancelled = "Job cancelled"

// ErrCancelled is returned by a runner that stopped at a cancellation
// checkpoint. Both backends map it to FailedReasonCancelled.
var ErrCancelled = errors.New("job cancelled")

// ErrCancelUnsupported is returned by backends without cooperative
// cancellation (the distributed backend).
var ErrCancelUnsupported = errors.New("cancel is not supported by this queue backend")

// JobID derives the deterministic job identity for a (story, voice) pair.
// Enqueueing the same pair twice always yields the same identity, which is
// what bounds execution to one in-flight run per pair.
func JobID(storyID, voiceID string) string {
	return storyID + ":" + voiceID
}

// Payload is the unit of work carried by a job.
type Payload struct {
	StoryID string `json:"story_id"`
	VoiceID string `json:"voice_id"`
	Force   bool   `json:"force"`
}

// Result summarizes a successful run.
type Result struct {
	StoryID  string `json:"story_id"`
	VoiceID  string `json:"voice_id"`
	Sections int    `json:"sections"`
}

// Job is a point-in-time snapshot of one synthesis job.
type Job struct {
	ID           string     `json:"id"`
	State        State      `json:"state"`
	Progress     int        `json:"progress"`
	Attempts     int        `json:"attempts"`
	Payload      Payload    `json:"payload"`
	Result       *Result    `json:"result,omitempty"`
	FailedReason string     `json:"failed_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Execution is the handle a running job exposes to its runner: progress
// reporting and the cooperative cancellation checkpoint.
type Execution interface {
	// UpdateProgress records progress, clamped to [0, 100].
	UpdateProgress(value int)
	// Cancelled reports whether the run should stop at its next checkpoint.
	Cancelled() bool
}

// Runner executes one job. Implemented by the synthesis worker.
type Runner interface {
	Run(ctx context.Context, payload Payload, execution Execution) (Result, error)
}

// Queue is the public contract shared by both backends.
type Queue interface {
	// Enqueue is idempotent: if a job with the same identity is waiting or
	// active, the existing job is returned and no second execution starts.
	Enqueue(ctx context.Context, storyID, voiceID string, force bool) (Job, error)
	// Job returns the current snapshot for the identity, or core.ErrNotFound.
	Job(ctx context.Context, id string) (Job, error)
	// Close releases backend resources; in-flight runs are cancelled
	// cooperatively.
	Close() error
}

func clampProgress(value int) int {
	if value < 0 {
		return 0
	}

	if value > 100 {
		return 100
	}

	return value
}
