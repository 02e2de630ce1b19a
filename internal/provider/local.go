package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/procrun"
)

// LocalConfig configures the subprocess-based synthesis engine.
type LocalConfig struct {
	// Binary is the synthesis program invoked per section.
	Binary string
	// ModelPath is passed to the binary unchanged.
	ModelPath string
	// Timeout is the hard wall-clock bound per invocation; the process is
	// killed once it elapses.
	Timeout time.Duration
}

// LocalEngine implements core.Synthesizer by shelling out to an external
// synthesis program. The voice reference is a path to a reference audio file
// the engine clones from.
type LocalEngine struct {
	config      LocalConfig
	store       core.ObjectStore
	transcriber *TranscriptionClient
	log         *logger.Logger
}

// NewLocalEngine creates a subprocess-backed synthesizer writing artifacts to
// the given object store.
func NewLocalEngine(config LocalConfig, store core.ObjectStore, log *logger.Logger) (*LocalEngine, error) {
	if config.Binary == "" {
		return nil, fmt.Errorf("%w: local engine binary is required", ErrNotConfigured)
	}

	return &LocalEngine{
		config:      config,
		store:       store,
		transcriber: nil,
		log:         log,
	}, nil
}

// WithTranscription verifies synthesized audio through the given client; the
// recognized text replaces the input echo in the result's transcript.
func (e *LocalEngine) WithTranscription(client *TranscriptionClient) *LocalEngine {
	e.transcriber = client

	return e
}

// Synthesize runs the external program for one section, streams the produced
// file through a checksum into the object store, and returns the artifact
// location.
func (e *LocalEngine) Synthesize(ctx context.Context, req core.SynthesisRequest) (core.SynthesisResult, error) {
	if req.VoiceRef == "" {
		return core.SynthesisResult{}, fmt.Errorf("%w: reference voice is empty", core.ErrSynthesisFailed)
	}

	if req.Text == "" {
		return core.SynthesisResult{}, fmt.Errorf("%w: text is empty", core.ErrSynthesisFailed)
	}

	tempFile, err := os.CreateTemp("", "narration-*.wav")
	if err != nil {
		return core.SynthesisResult{}, fmt.Errorf("create temp output: %w", err)
	}

	tempPath := tempFile.Name()
	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(tempPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			e.log.Warn("Failed to remove temp file '%s': %v", tempPath, removeErr)
		}
	}()

	args := []string{
		"-m", e.config.ModelPath,
		"--ref_audio", req.VoiceRef,
		"-p", req.Text,
		"--tts_export", tempPath,
	}

	output, runErr := procrun.Run(ctx, procrun.Command{
		Path:    e.config.Binary,
		Args:    args,
		Timeout: e.config.Timeout,
	})
	if runErr != nil {
		return core.SynthesisResult{}, fmt.Errorf("%w: %w", core.ErrSynthesisFailed, runErr)
	}

	info, statErr := os.Stat(tempPath)
	if statErr != nil || info.Size() == 0 {
		return core.SynthesisResult{}, fmt.Errorf(
			"%w: %s produced no audio - output: %s",
			core.ErrSynthesisFailed,
			e.config.Binary,
			string(output.Combined),
		)
	}

	durationSec, durationErr := wavDuration(tempPath)
	if durationErr != nil {
		// Duration is best-effort; a malformed header does not fail the call.
		e.log.Warn("Failed to read wav duration from '%s': %v", tempPath, durationErr)
	}

	key := artifactKey(req)

	checksum, uploadErr := e.upload(ctx, key, tempPath)
	if uploadErr != nil {
		return core.SynthesisResult{}, fmt.Errorf("%w: %w", core.ErrSynthesisFailed, uploadErr)
	}

	e.log.Info("Synthesized section %s with %s in %s", req.SectionID, e.config.Binary, output.Duration)

	return core.SynthesisResult{
		Key:         key,
		URL:         e.store.URL(key),
		DurationSec: durationSec,
		Checksum:    checksum,
		Transcript:  e.transcript(ctx, req, tempPath),
	}, nil
}

// transcript is best-effort: without a transcription client, or when the
// call fails, the input text stands in for the recognized text.
func (e *LocalEngine) transcript(ctx context.Context, req core.SynthesisRequest, path string) string {
	if e.transcriber == nil {
		return req.Text
	}

	file, err := os.Open(path)
	if err != nil {
		e.log.Warn("Failed to open audio for transcription: %v", err)

		return req.Text
	}

	defer file.Close()

	text, err := e.transcriber.Transcribe(ctx, req, file)
	if err != nil {
		e.log.Warn("Transcription failed for section %s: %v", req.SectionID, err)

		return req.Text
	}

	return text
}

// upload streams the file into the object store, hashing as it goes.
func (e *LocalEngine) upload(ctx context.Context, key, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open synthesized audio: %w", err)
	}
	defer file.Close()

	hash := sha256.New()

	_, err = e.store.Upload(ctx, key, io.TeeReader(file, hash))
	if err != nil {
		return "", fmt.Errorf("upload artifact '%s': %w", key, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// artifactKey names the stored clip. The uuid suffix keeps forced re-runs
// from overwriting an artifact a client may still be streaming.
func artifactKey(req core.SynthesisRequest) string {
	return fmt.Sprintf("%s/%s-%s.wav", req.StoryID, req.SectionID, uuid.NewString())
}
