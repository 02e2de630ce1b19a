package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/provider"
)

const (
	defaultAckWait     = 15 * time.Minute
	defaultMaxDeliver  = 3
	defaultConcurrency = 2
	defaultNakDelay    = 30 * time.Second
	fetchWait          = 2 * time.Second
	dedupeWindow       = 10 * time.Minute
)

// NatsConfig configures the distributed queue backend.
type NatsConfig struct {
	StreamName   string
	Subject      string
	ConsumerName string
	JobBucket    string
	// MaxDeliver bounds broker-managed retries per job.
	MaxDeliver int
	// AckWait must exceed the longest expected job execution.
	AckWait time.Duration
	// Concurrency is the number of simultaneous job executions per process.
	Concurrency int
}

func (c *NatsConfig) applyDefaults() {
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = defaultMaxDeliver
	}

	if c.AckWait <= 0 {
		c.AckWait = defaultAckWait
	}

	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
}

// jobMessage is the wire envelope published per enqueue.
type jobMessage struct {
	Header  events.EventHeader `json:"header"`
	Payload Payload            `json:"payload"`
}

// NatsQueue is the broker-backed queue. Job identity doubles as the broker
// message id so broker-level deduplication enforces one job per identity, and
// job state lives in a JetStream key-value bucket so it survives process
// restarts.
type NatsQueue struct {
	js     nats.JetStreamContext
	kv     nats.KeyValue
	config NatsConfig
	runner Runner
	log    *logger.Logger

	sub      *nats.Subscription
	sem      chan struct{}
	stopCtx  context.Context
	stopFn   context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// NewNats connects the queue to the broker, creating the stream and the job
// state bucket when absent. A nil runner is valid for enqueue/query-only
// clients; Start requires one.
func NewNats(conn *nats.Conn, config NatsConfig, runner Runner, log *logger.Logger) (*NatsQueue, error) {
	config.applyDefaults()

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("acquire jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:       config.StreamName,
		Subjects:   []string{config.Subject},
		Retention:  nats.WorkQueuePolicy,
		Storage:    nats.FileStorage,
		Duplicates: dedupeWindow,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("create stream '%s': %w", config.StreamName, err)
	}

	kv, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      config.JobBucket,
		Description: "Narration synthesis job state.",
	})
	if err != nil {
		// KV buckets are streams underneath; a conflict surfaces as a
		// stream name collision.
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("create job state bucket '%s': %w", config.JobBucket, err)
		}

		kv, err = js.KeyValue(config.JobBucket)
		if err != nil {
			return nil, fmt.Errorf("bind to job state bucket '%s': %w", config.JobBucket, err)
		}
	}

	stopCtx, stopFn := context.WithCancel(context.Background())

	return &NatsQueue{
		js:       js,
		kv:       kv,
		config:   config,
		runner:   runner,
		log:      log,
		sem:      make(chan struct{}, config.Concurrency),
		stopCtx:  stopCtx,
		stopFn:   stopFn,
		loopDone: make(chan struct{}),
	}, nil
}

// Enqueue consults the job state bucket first: a waiting or active record is
// returned unchanged. Otherwise the record is reset and the job published
// with its identity as the broker message id.
func (q *NatsQueue) Enqueue(ctx context.Context, storyID, voiceID string, force bool) (Job, error) {
	id := JobID(storyID, voiceID)
	key := kvKey(id)

	existing, getErr := q.loadJob(key)
	if getErr == nil && !existing.State.Terminal() {
		return existing, nil
	}

	job := Job{
		ID:        id,
		State:     StateWaiting,
		Attempts:  existing.Attempts,
		Payload:   Payload{StoryID: storyID, VoiceID: voiceID, Force: force},
		CreatedAt: time.Now().UTC(),
	}
	if getErr == nil {
		job.CreatedAt = existing.CreatedAt
	}

	if err := q.storeJob(key, job); err != nil {
		return Job{}, err
	}

	envelope := jobMessage{
		Header: events.EventHeader{
			Timestamp:  time.Now().UTC(),
			WorkflowID: id,
			EventID:    uuid.NewString(),
		},
		Payload: job.Payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return Job{}, fmt.Errorf("marshal job message: %w", err)
	}

	// The job identity is the broker message id, so a message lost between
	// the KV write and this publish cannot be enqueued twice. Re-enqueueing
	// a terminal job must escape that dedupe window: the waiting/active
	// guard above already bounds in-flight runs to one, so the id is salted
	// per publish once the stored record is terminal.
	msgID := id
	if getErr == nil && existing.State.Terminal() {
		msgID = id + ":" + envelope.Header.EventID
	}

	ack, err := q.js.Publish(q.config.Subject, data, nats.MsgId(msgID), nats.Context(ctx))
	if err != nil {
		return Job{}, fmt.Errorf("publish job %q: %w", id, err)
	}

	if ack.Duplicate {
		q.log.Warn("Job %s publish deduplicated by the broker; keeping stored state", id)
	}

	return job, nil
}

// Job returns the stored snapshot for the identity.
func (q *NatsQueue) Job(_ context.Context, id string) (Job, error) {
	return q.loadJob(kvKey(id))
}

// Start begins consuming jobs. It returns once the subscription is
// established; consumption stops when Close is called.
func (q *NatsQueue) Start() error {
	if q.runner == nil {
		return errors.New("queue has no runner; enqueue-only client cannot consume")
	}

	sub, err := q.js.PullSubscribe(
		q.config.Subject,
		q.config.ConsumerName,
		nats.AckExplicit(),
		nats.AckWait(q.config.AckWait),
		nats.MaxDeliver(q.config.MaxDeliver),
	)
	if err != nil {
		return fmt.Errorf("subscribe to subject %s: %w", q.config.Subject, err)
	}

	q.sub = sub

	go q.consumeLoop()

	return nil
}

// Close stops consumption and waits for in-flight executions to settle.
func (q *NatsQueue) Close() error {
	q.stopFn()

	if q.sub != nil {
		<-q.loopDone

		if err := q.sub.Drain(); err != nil {
			q.wg.Wait()

			return fmt.Errorf("drain subscription: %w", err)
		}
	}

	q.wg.Wait()

	return nil
}

func (q *NatsQueue) consumeLoop() {
	defer close(q.loopDone)

	for {
		select {
		case <-q.stopCtx.Done():
			return
		case q.sem <- struct{}{}:
		}

		msgs, err := q.sub.Fetch(1, nats.MaxWait(fetchWait))
		if err != nil {
			<-q.sem

			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}

			if q.stopCtx.Err() != nil {
				return
			}

			q.log.Error("Fetch failed: %v", err)

			continue
		}

		if len(msgs) == 0 {
			<-q.sem

			continue
		}

		q.wg.Add(1)

		go func(msg *nats.Msg) {
			defer q.wg.Done()
			defer func() { <-q.sem }()

			q.handleMessage(msg)
		}(msgs[0])
	}
}

func (q *NatsQueue) handleMessage(msg *nats.Msg) {
	var envelope jobMessage

	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		q.log.Error("Failed to unmarshal job message: %v", err)
		_ = msg.Term()

		return
	}

	payload := envelope.Payload
	id := JobID(payload.StoryID, payload.VoiceID)
	key := kvKey(id)

	attempts := 1
	if meta, metaErr := msg.Metadata(); metaErr == nil {
		attempts = int(meta.NumDelivered)
	}

	job, loadErr := q.loadJob(key)
	if loadErr != nil {
		// Enqueue always writes the record before publishing; recreate it
		// if the bucket was wiped while the message survived.
		job = Job{ID: id, Payload: payload, CreatedAt: envelope.Header.Timestamp}
	}

	job.State = StateActive
	job.Progress = 0
	job.Attempts = attempts
	job.Result = nil
	job.FailedReason = ""
	job.FinishedAt = nil

	if err := q.storeJob(key, job); err != nil {
		q.log.Error("Failed to persist active state for job %s: %v", id, err)
	}

	execution := &natsExecution{queue: q, key: key}

	result, runErr := q.runner.Run(q.stopCtx, payload, execution)

	if runErr == nil {
		q.settle(msg, key, job, func(j *Job) {
			j.State = StateCompleted
			j.Progress = 100
			resultCopy := result
			j.Result = &resultCopy
		}, ackMessage)

		return
	}

	q.log.Warn("Job %s attempt %d failed: %v", id, attempts, runErr)

	switch {
	case errors.Is(runErr, ErrCancelled):
		// Shutdown-driven; hand the message back for another process.
		q.settle(msg, key, job, func(j *Job) {
			j.State = StateWaiting
			j.FailedReason = FailedReasonCancelled
		}, nakMessage)
	case isPrecondition(runErr):
		q.settle(msg, key, job, func(j *Job) {
			j.State = StateFailed
			j.FailedReason = runErr.Error()
		}, termMessage)
	case attempts < q.config.MaxDeliver:
		q.settle(msg, key, job, func(j *Job) {
			j.State = StateWaiting
			j.FailedReason = runErr.Error()
		}, nakMessage)
	default:
		q.settle(msg, key, job, func(j *Job) {
			j.State = StateFailed
			j.FailedReason = runErr.Error()
		}, termMessage)
	}
}

type settleFunc func(msg *nats.Msg) error

func ackMessage(msg *nats.Msg) error { return msg.Ack() }

func termMessage(msg *nats.Msg) error { return msg.Term() }

func nakMessage(msg *nats.Msg) error { return msg.NakWithDelay(defaultNakDelay) }

func (q *NatsQueue) settle(msg *nats.Msg, key string, job Job, mutate func(*Job), settle settleFunc) {
	// Reload so progress persisted during the run is not clobbered.
	if latest, err := q.loadJob(key); err == nil {
		job = latest
	}

	mutate(&job)

	if job.State.Terminal() {
		finished := time.Now().UTC()
		job.FinishedAt = &finished
	}

	if err := q.storeJob(key, job); err != nil {
		q.log.Error("Failed to persist terminal state for job %s: %v", job.ID, err)
	}

	if err := settle(msg); err != nil {
		q.log.Error("Failed to settle message for job %s: %v", job.ID, err)
	}
}

func (q *NatsQueue) loadJob(key string) (Job, error) {
	entry, err := q.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return Job{}, fmt.Errorf("job %q: %w", key, core.ErrNotFound)
		}

		return Job{}, fmt.Errorf("load job %q: %w", key, err)
	}

	var job Job

	if err := json.Unmarshal(entry.Value(), &job); err != nil {
		return Job{}, fmt.Errorf("unmarshal job %q: %w", key, err)
	}

	return job, nil
}

func (q *NatsQueue) storeJob(key string, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %q: %w", job.ID, err)
	}

	if _, err := q.kv.Put(key, data); err != nil {
		return fmt.Errorf("store job %q: %w", job.ID, err)
	}

	return nil
}

// natsExecution persists progress into the job state bucket as it is
// reported. Cancellation is shutdown-driven only; the distributed backend has
// no per-job cancel.
type natsExecution struct {
	queue *NatsQueue
	key   string
}

func (e *natsExecution) UpdateProgress(value int) {
	job, err := e.queue.loadJob(e.key)
	if err != nil {
		return
	}

	job.Progress = clampProgress(value)

	if err := e.queue.storeJob(e.key, job); err != nil {
		e.queue.log.Warn("Failed to persist progress for job %s: %v", job.ID, err)
	}
}

func (e *natsExecution) Cancelled() bool {
	return e.queue.stopCtx.Err() != nil
}

// isPrecondition classifies failures that repeat deterministically: missing
// catalog rows, an unready voice, or provider misconfiguration. Retrying
// these wastes delivery attempts.
func isPrecondition(err error) bool {
	return errors.Is(err, core.ErrStoryNotFound) ||
		errors.Is(err, core.ErrVoiceNotFound) ||
		errors.Is(err, core.ErrVoiceNotReady) ||
		errors.Is(err, core.ErrNoSections) ||
		errors.Is(err, provider.ErrUnknownProvider) ||
		errors.Is(err, provider.ErrNotConfigured)
}

// kvKey maps a job identity to a key-value bucket key; ':' is not a legal
// key character.
func kvKey(id string) string {
	return strings.ReplaceAll(id, ":", ".")
}
