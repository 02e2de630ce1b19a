// Package synthesis implements the per-section narration worker: given a
// (story, voice) job it drives each section through the section audio state
// machine, invoking the voice's TTS provider for every section that still
// needs audio.
package synthesis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/jobqueue"
	"github.com/book-expert/narration-service/internal/textnorm"
)

// metadataStorageKey records, on each section audio row, the object store key
// the provider wrote the clip under.
const metadataStorageKey = "storage_key"

// Worker executes synthesis jobs. It implements jobqueue.Runner for both
// queue backends.
type Worker struct {
	catalog    core.StoryStore
	audio      core.SectionAudioStore
	providers  providerResolver
	normalizer *textnorm.Normalizer
	log        *logger.Logger
}

// providerResolver maps a voice profile's provider selector to a configured
// synthesizer.
type providerResolver interface {
	Resolve(selector string) (core.Synthesizer, error)
}

// NewWorker creates a synthesis worker.
func NewWorker(
	catalog core.StoryStore,
	audio core.SectionAudioStore,
	providers providerResolver,
	log *logger.Logger,
) *Worker {
	return &Worker{
		catalog:    catalog,
		audio:      audio,
		providers:  providers,
		normalizer: textnorm.New(),
		log:        log,
	}
}

// Run synthesizes audio for every section of the story under the given
// voice. Sections are processed strictly in ascending index order; the first
// section failure aborts the remaining sections and fails the job. Sections
// already COMPLETE with audio are skipped unless the payload forces a re-run.
func (w *Worker) Run(
	ctx context.Context,
	payload jobqueue.Payload,
	execution jobqueue.Execution,
) (jobqueue.Result, error) {
	story, voice, sections, err := w.resolveInputs(ctx, payload)
	if err != nil {
		return jobqueue.Result{}, err
	}

	synthesizer, err := w.providers.Resolve(voice.Provider)
	if err != nil {
		return jobqueue.Result{}, err
	}

	existing, err := w.loadExisting(ctx, story.ID, voice.ID)
	if err != nil {
		return jobqueue.Result{}, err
	}

	total := len(sections)
	completed := 0

	for _, section := range sections {
		if execution.Cancelled() {
			return jobqueue.Result{}, jobqueue.ErrCancelled
		}

		// Progress reflects completed work, not work in progress.
		execution.UpdateProgress(progressPercent(completed, total))

		if !payload.Force && isSynthesized(existing[section.ID]) {
			completed++

			continue
		}

		if err := w.synthesizeSection(ctx, synthesizer, story, voice, section); err != nil {
			return jobqueue.Result{}, err
		}

		completed++
	}

	execution.UpdateProgress(100)

	w.log.Info("Narrated story %s with voice %s (%d sections)", story.ID, voice.ID, total)

	return jobqueue.Result{
		StoryID:  story.ID,
		VoiceID:  voice.ID,
		Sections: total,
	}, nil
}

// resolveInputs loads the catalog rows the job depends on. Any miss is a
// precondition failure: the job fails on its first step and is not retried.
func (w *Worker) resolveInputs(
	ctx context.Context,
	payload jobqueue.Payload,
) (core.Story, core.VoiceProfile, []core.Section, error) {
	story, err := w.catalog.Story(ctx, payload.StoryID)
	if err != nil {
		return core.Story{}, core.VoiceProfile{}, nil, err
	}

	voice, err := w.catalog.Voice(ctx, payload.VoiceID)
	if err != nil {
		return core.Story{}, core.VoiceProfile{}, nil, err
	}

	if voice.ProviderRef == "" {
		return core.Story{}, core.VoiceProfile{}, nil, fmt.Errorf(
			"voice %q: %w", voice.ID, core.ErrVoiceNotReady,
		)
	}

	sections, err := w.catalog.SectionsByStory(ctx, payload.StoryID)
	if err != nil {
		return core.Story{}, core.VoiceProfile{}, nil, err
	}

	if len(sections) == 0 {
		return core.Story{}, core.VoiceProfile{}, nil, fmt.Errorf(
			"story %q: %w", story.ID, core.ErrNoSections,
		)
	}

	// The store returns index order already; sort defensively since the
	// external collection makes no ordering promise.
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].Index < sections[j].Index
	})

	return story, voice, sections, nil
}

func (w *Worker) loadExisting(
	ctx context.Context,
	storyID, voiceID string,
) (map[string]core.SectionAudio, error) {
	records, err := w.audio.ListByStoryVoice(ctx, storyID, voiceID)
	if err != nil {
		return nil, fmt.Errorf("load existing section audio: %w", err)
	}

	byID := make(map[string]core.SectionAudio, len(records))
	for _, record := range records {
		byID[record.SectionID] = record
	}

	return byID, nil
}

// synthesizeSection drives one section through PROCESSING to COMPLETE or
// ERROR. A failure is recorded on the row before it aborts the job.
func (w *Worker) synthesizeSection(
	ctx context.Context,
	synthesizer core.Synthesizer,
	story core.Story,
	voice core.VoiceProfile,
	section core.Section,
) error {
	started := time.Now().UTC()

	_, err := w.audio.Upsert(ctx, section.ID, voice.ID, core.SectionAudioUpdate{
		Status:    core.StatusProcessing,
		StartedAt: core.TimePtr(started),
	})
	if err != nil {
		return fmt.Errorf("mark section %d processing: %w", section.Index, err)
	}

	result, synthErr := synthesizer.Synthesize(ctx, core.SynthesisRequest{
		Text:      w.normalizer.Normalize(section.Text),
		VoiceRef:  voice.ProviderRef,
		ModelID:   voice.ModelID,
		StoryID:   story.ID,
		SectionID: section.ID,
	})

	finished := time.Now().UTC()

	if synthErr != nil {
		_, upsertErr := w.audio.Upsert(ctx, section.ID, voice.ID, core.SectionAudioUpdate{
			Status:      core.StatusError,
			Error:       core.StringPtr(synthErr.Error()),
			CompletedAt: core.TimePtr(finished),
		})
		if upsertErr != nil {
			w.log.Error("Failed to record section %d error: %v", section.Index, upsertErr)
		}

		return fmt.Errorf("synthesize section %d: %w", section.Index, synthErr)
	}

	_, err = w.audio.Upsert(ctx, section.ID, voice.ID, core.SectionAudioUpdate{
		Status:      core.StatusComplete,
		AudioURL:    core.StringPtr(result.URL),
		DurationSec: core.Float64Ptr(result.DurationSec),
		Checksum:    core.StringPtr(result.Checksum),
		Transcript:  core.StringPtr(result.Transcript),
		Metadata:    map[string]string{metadataStorageKey: result.Key},
		CompletedAt: core.TimePtr(finished),
	})
	if err != nil {
		return fmt.Errorf("mark section %d complete: %w", section.Index, err)
	}

	return nil
}

// isSynthesized reports whether an existing record already carries usable
// audio. The zero record (section never attempted) does not.
func isSynthesized(record core.SectionAudio) bool {
	return record.Status == core.StatusComplete && record.AudioURL != ""
}

func progressPercent(completed, total int) int {
	return int(math.Round(100 * float64(completed) / float64(total)))
}
