package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/jobqueue"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/provider"
	"github.com/book-expert/narration-service/internal/store"
	"github.com/book-expert/narration-service/internal/synthesis"
)

var errAudioDirRequired = errors.New(
	"audio.dir_path is required when no broker is configured",
)

// commandContext lazily builds the pieces commands share: configuration, the
// logger, and the queue client matching the configured backend.
type commandContext struct {
	cfg  *config.Config
	log  *logger.Logger
	conn *nats.Conn
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

func (c *commandContext) ensureConfig() (*config.Config, *logger.Logger, error) {
	if c.cfg != nil {
		return c.cfg, c.log, nil
	}

	log, err := logger.New(os.TempDir(), "narrate.log")
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	cfg, err := config.Load(log)
	if err != nil {
		_ = log.Close()

		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	c.cfg = cfg
	c.log = log

	return cfg, log, nil
}

// distributed reports whether jobs are handed to the broker-backed queue.
func (c *commandContext) distributed() bool {
	return c.cfg.QueueMode() == config.QueueModeNats
}

// natsClient returns an enqueue/query-only distributed queue client.
func (c *commandContext) natsClient() (*jobqueue.NatsQueue, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}

	queue, err := jobqueue.NewNats(conn, jobqueue.NatsConfig{
		StreamName:   c.cfg.NATS.JobStreamName,
		Subject:      c.cfg.NATS.JobSubject,
		ConsumerName: c.cfg.NATS.JobConsumerName,
		JobBucket:    c.cfg.NATS.JobStateBucket,
		MaxDeliver:   c.cfg.Queue.MaxDeliver,
		AckWait:      c.cfg.Queue.AckWait(),
		Concurrency:  c.cfg.Queue.Concurrency,
	}, nil, c.log)
	if err != nil {
		return nil, fmt.Errorf("create queue client: %w", err)
	}

	return queue, nil
}

// localQueue builds the full synthesis stack in-process. Used when no broker
// is configured; the CLI process is then the worker.
func (c *commandContext) localQueue() (*jobqueue.LocalQueue, func(), error) {
	database, err := store.Open(c.cfg.Store.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	audioStore, err := c.buildObjectStore()
	if err != nil {
		_ = database.Close()

		return nil, nil, err
	}

	registry := c.buildRegistry(audioStore)
	worker := synthesis.NewWorker(database, database, registry, c.log)
	queue := jobqueue.NewLocal(worker, c.log, jobqueue.WithRetention(c.cfg.Retention()))

	cleanup := func() {
		_ = queue.Close()
		_ = database.Close()
	}

	return queue, cleanup, nil
}

func (c *commandContext) buildObjectStore() (core.ObjectStore, error) {
	if c.cfg.Audio.DirPath != "" {
		dirStore, err := objectstore.NewDirStore(c.cfg.Audio.DirPath, c.cfg.Audio.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create audio directory store: %w", err)
		}

		return dirStore, nil
	}

	if c.cfg.NATS.URL == "" {
		return nil, errAudioDirRequired
	}

	conn, err := c.connect()
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("acquire jetstream context: %w", err)
	}

	natsStore, err := objectstore.NewNatsStore(
		js, c.cfg.NATS.AudioObjectStoreBucket, c.cfg.Audio.BaseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio object store: %w", err)
	}

	return natsStore, nil
}

func (c *commandContext) buildRegistry(audioStore core.ObjectStore) *provider.Registry {
	registry := provider.NewRegistry()

	if c.cfg.Providers.Local.Binary != "" {
		local, err := provider.NewLocalEngine(provider.LocalConfig{
			Binary:    c.cfg.Providers.Local.Binary,
			ModelPath: c.cfg.Providers.Local.ModelPath,
			Timeout:   c.cfg.Providers.Local.Timeout(),
		}, audioStore, c.log)
		if err != nil {
			c.log.Warn("Local provider not registered: %v", err)
		} else {
			if c.cfg.Providers.Transcription.BaseURL != "" {
				local = local.WithTranscription(provider.NewTranscriptionClient(
					c.cfg.Providers.Transcription.BaseURL,
					c.cfg.Providers.Transcription.APIKey,
					c.cfg.Providers.Transcription.Model,
					c.cfg.Providers.Transcription.Language,
				))
			}

			registry.Register(provider.NameLocal, local)
		}
	}

	if c.cfg.Providers.Remote.BaseURL != "" {
		remote, err := provider.NewRemoteEngine(provider.RemoteConfig{
			BaseURL:     c.cfg.Providers.Remote.BaseURL,
			APIKey:      c.cfg.Providers.Remote.APIKey,
			Language:    c.cfg.Providers.Remote.Language,
			Temperature: c.cfg.Providers.Remote.Temperature,
			Timeout:     c.cfg.Providers.Remote.Timeout(),
		}, audioStore, c.log)
		if err != nil {
			c.log.Warn("Remote provider not registered: %v", err)
		} else {
			registry.Register(provider.NameRemote, remote)
		}
	}

	return registry
}

func (c *commandContext) connect() (*nats.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := nats.Connect(c.cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", c.cfg.NATS.URL, err)
	}

	c.conn = conn

	return conn, nil
}
