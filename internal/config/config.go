// Package config provides the configuration structure for the
// narration-service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/caarlos0/env/v11"
)

// QueueModeLocal and QueueModeNats select the job queue backend.
const (
	QueueModeLocal = "local"
	QueueModeNats  = "nats"
)

// ErrInvalidQueueMode indicates a queue mode outside {local, nats}.
var ErrInvalidQueueMode = errors.New("invalid queue mode")

// ErrDatabasePathRequired indicates a missing store.database_path setting.
var ErrDatabasePathRequired = errors.New("store.database_path is required")

// NATSConfig holds the broker settings used by the distributed queue backend
// and the audio object store.
type NATSConfig struct {
	URL                    string `env:"NARRATION_NATS_URL"          toml:"url"`
	JobStreamName          string `env:"NARRATION_JOB_STREAM"        toml:"job_stream_name"`
	JobSubject             string `env:"NARRATION_JOB_SUBJECT"       toml:"job_subject"`
	JobConsumerName        string `env:"NARRATION_JOB_CONSUMER"      toml:"job_consumer_name"`
	JobStateBucket         string `env:"NARRATION_JOB_STATE_BUCKET"  toml:"job_state_bucket"`
	AudioObjectStoreBucket string `env:"NARRATION_AUDIO_BUCKET"      toml:"audio_object_store_bucket"`
}

// QueueConfig selects and tunes the job queue backend.
type QueueConfig struct {
	Mode             string `env:"NARRATION_QUEUE_MODE"              toml:"mode"`
	MaxDeliver       int    `env:"NARRATION_QUEUE_MAX_DELIVER"       toml:"max_deliver"`
	AckWaitSeconds   int    `env:"NARRATION_QUEUE_ACK_WAIT_SECONDS"  toml:"ack_wait_seconds"`
	Concurrency      int    `env:"NARRATION_QUEUE_CONCURRENCY"       toml:"concurrency"`
	RetentionMinutes int    `env:"NARRATION_QUEUE_RETENTION_MINUTES" toml:"retention_minutes"`
}

// LocalProviderConfig configures the subprocess TTS engine.
type LocalProviderConfig struct {
	Binary         string `env:"NARRATION_LOCAL_BINARY"          toml:"binary"`
	ModelPath      string `env:"NARRATION_LOCAL_MODEL_PATH"      toml:"model_path"`
	TimeoutSeconds int    `env:"NARRATION_LOCAL_TIMEOUT_SECONDS" toml:"timeout_seconds"`
}

// RemoteProviderConfig configures the streaming HTTP TTS engine.
type RemoteProviderConfig struct {
	BaseURL        string  `env:"NARRATION_REMOTE_BASE_URL"        toml:"base_url"`
	APIKey         string  `env:"NARRATION_REMOTE_API_KEY"         toml:"api_key"`
	Language       string  `env:"NARRATION_REMOTE_LANGUAGE"        toml:"language"`
	Temperature    float64 `env:"NARRATION_REMOTE_TEMPERATURE"     toml:"temperature"`
	TimeoutSeconds int     `env:"NARRATION_REMOTE_TIMEOUT_SECONDS" toml:"timeout_seconds"`
}

// TranscriptionConfig configures optional speech-to-text verification of
// synthesized audio. Left empty, transcripts echo the input text.
type TranscriptionConfig struct {
	BaseURL  string `env:"NARRATION_TRANSCRIBE_BASE_URL" toml:"base_url"`
	APIKey   string `env:"NARRATION_TRANSCRIBE_API_KEY"  toml:"api_key"`
	Model    string `env:"NARRATION_TRANSCRIBE_MODEL"    toml:"model"`
	Language string `env:"NARRATION_TRANSCRIBE_LANGUAGE" toml:"language"`
}

// ProvidersConfig groups the TTS backends. A provider with no configuration
// is simply not registered; resolving a voice against it fails fast.
type ProvidersConfig struct {
	Local         LocalProviderConfig  `toml:"local"`
	Remote        RemoteProviderConfig `toml:"remote"`
	Transcription TranscriptionConfig  `toml:"transcription"`
}

// StoreConfig holds the catalog and section audio database location.
type StoreConfig struct {
	DatabasePath string `env:"NARRATION_DATABASE_PATH" toml:"database_path"`
}

// AudioConfig holds artifact serving settings. When DirPath is set the
// filesystem store is used instead of the NATS object store.
type AudioConfig struct {
	BaseURL string `env:"NARRATION_AUDIO_BASE_URL" toml:"base_url"`
	DirPath string `env:"NARRATION_AUDIO_DIR"      toml:"dir_path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `env:"NARRATION_LOGS_DIR"  toml:"base_logs_dir"`
	LockFile    string `env:"NARRATION_LOCK_FILE" toml:"lock_file"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	Queue     QueueConfig     `toml:"queue"`
	Providers ProvidersConfig `toml:"providers"`
	Store     StoreConfig     `toml:"store"`
	Audio     AudioConfig     `toml:"audio"`
	Paths     PathsConfig     `toml:"paths"`
}

// Load reads the project TOML via the configurator and then applies
// NARRATION_* environment overrides on top.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings no backend can act on.
func (c *Config) Validate() error {
	switch c.Queue.Mode {
	case "", QueueModeLocal, QueueModeNats:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidQueueMode, c.Queue.Mode)
	}

	if c.Store.DatabasePath == "" {
		return ErrDatabasePathRequired
	}

	return nil
}

// QueueMode returns the configured backend, defaulting to local when unset.
func (c *Config) QueueMode() string {
	if c.Queue.Mode == "" {
		return QueueModeLocal
	}

	return c.Queue.Mode
}

// Retention returns how long terminal jobs stay queryable on the local
// backend.
func (c *Config) Retention() time.Duration {
	if c.Queue.RetentionMinutes <= 0 {
		return 30 * time.Minute
	}

	return time.Duration(c.Queue.RetentionMinutes) * time.Minute
}

// Timeout returns the subprocess engine's hard deadline.
func (c *LocalProviderConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}

	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the HTTP engine's request deadline.
func (c *RemoteProviderConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 2 * time.Minute
	}

	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AckWait returns the broker redelivery deadline for in-flight jobs.
func (c *QueueConfig) AckWait() time.Duration {
	if c.AckWaitSeconds <= 0 {
		return 15 * time.Minute
	}

	return time.Duration(c.AckWaitSeconds) * time.Second
}
