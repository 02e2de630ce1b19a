// main package for the narration-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/gofrs/flock"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/jobqueue"
	"github.com/book-expert/narration-service/internal/objectstore"
	"github.com/book-expert/narration-service/internal/provider"
	"github.com/book-expert/narration-service/internal/store"
	"github.com/book-expert/narration-service/internal/synthesis"
)

var (
	errAlreadyRunning = errors.New("another narration-service instance is already running")
	errNatsRequired   = errors.New("nats.url is required unless audio.dir_path and local queue mode are set")
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "narration-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func acquireLock(path string) (*flock.Flock, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "narration-service.lock")
	}

	lock := flock.New(path)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	if !ok {
		return nil, errAlreadyRunning
	}

	return lock, nil
}

func buildObjectStore(cfg *config.Config, conn *nats.Conn) (core.ObjectStore, error) {
	if cfg.Audio.DirPath != "" {
		dirStore, err := objectstore.NewDirStore(cfg.Audio.DirPath, cfg.Audio.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create audio directory store: %w", err)
		}

		return dirStore, nil
	}

	if conn == nil {
		return nil, errNatsRequired
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("acquire jetstream context: %w", err)
	}

	natsStore, err := objectstore.NewNatsStore(js, cfg.NATS.AudioObjectStoreBucket, cfg.Audio.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("create audio object store: %w", err)
	}

	return natsStore, nil
}

func buildRegistry(
	cfg *config.Config,
	audioStore core.ObjectStore,
	log *logger.Logger,
) *provider.Registry {
	registry := provider.NewRegistry()

	if cfg.Providers.Local.Binary != "" {
		local, err := provider.NewLocalEngine(provider.LocalConfig{
			Binary:    cfg.Providers.Local.Binary,
			ModelPath: cfg.Providers.Local.ModelPath,
			Timeout:   cfg.Providers.Local.Timeout(),
		}, audioStore, log)
		if err != nil {
			log.Warn("Local provider not registered: %v", err)
		} else {
			if cfg.Providers.Transcription.BaseURL != "" {
				local = local.WithTranscription(provider.NewTranscriptionClient(
					cfg.Providers.Transcription.BaseURL,
					cfg.Providers.Transcription.APIKey,
					cfg.Providers.Transcription.Model,
					cfg.Providers.Transcription.Language,
				))
			}

			registry.Register(provider.NameLocal, local)
		}
	}

	if cfg.Providers.Remote.BaseURL != "" {
		remote, err := provider.NewRemoteEngine(provider.RemoteConfig{
			BaseURL:     cfg.Providers.Remote.BaseURL,
			APIKey:      cfg.Providers.Remote.APIKey,
			Language:    cfg.Providers.Remote.Language,
			Temperature: cfg.Providers.Remote.Temperature,
			Timeout:     cfg.Providers.Remote.Timeout(),
		}, audioStore, log)
		if err != nil {
			log.Warn("Remote provider not registered: %v", err)
		} else {
			registry.Register(provider.NameRemote, remote)
		}
	}

	return registry
}

func buildQueue(
	cfg *config.Config,
	conn *nats.Conn,
	worker *synthesis.Worker,
	log *logger.Logger,
) (jobqueue.Queue, error) {
	if cfg.QueueMode() == config.QueueModeLocal {
		return jobqueue.NewLocal(worker, log, jobqueue.WithRetention(cfg.Retention())), nil
	}

	if conn == nil {
		return nil, errNatsRequired
	}

	queue, err := jobqueue.NewNats(conn, jobqueue.NatsConfig{
		StreamName:   cfg.NATS.JobStreamName,
		Subject:      cfg.NATS.JobSubject,
		ConsumerName: cfg.NATS.JobConsumerName,
		JobBucket:    cfg.NATS.JobStateBucket,
		MaxDeliver:   cfg.Queue.MaxDeliver,
		AckWait:      cfg.Queue.AckWait(),
		Concurrency:  cfg.Queue.Concurrency,
	}, worker, log)
	if err != nil {
		return nil, fmt.Errorf("create job queue: %w", err)
	}

	if err := queue.Start(); err != nil {
		return nil, fmt.Errorf("start job queue: %w", err)
	}

	return queue, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	lock, err := acquireLock(cfg.Paths.LockFile)
	if err != nil {
		log.Error("Failed to acquire instance lock: %v", err)

		return err
	}

	defer func() { _ = lock.Unlock() }()

	database, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		log.Error("Failed to open database: %v", err)

		return fmt.Errorf("open database: %w", err)
	}

	defer func() { _ = database.Close() }()

	var conn *nats.Conn
	if cfg.NATS.URL != "" {
		conn, err = nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

			return fmt.Errorf("connect to NATS: %w", err)
		}

		defer conn.Close()
	}

	audioStore, err := buildObjectStore(cfg, conn)
	if err != nil {
		log.Error("Failed to build object store: %v", err)

		return err
	}

	registry := buildRegistry(cfg, audioStore, log)
	worker := synthesis.NewWorker(database, database, registry, log)

	queue, err := buildQueue(cfg, conn, worker, log)
	if err != nil {
		log.Error("Failed to build job queue: %v", err)

		return err
	}

	defer func() { _ = queue.Close() }()

	log.System(
		"Narration-service initialized. Queue mode: %s, database: %s",
		cfg.QueueMode(), cfg.Store.DatabasePath,
	)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	<-ctx.Done()

	log.System("Shutdown signal received; draining in-flight jobs.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
