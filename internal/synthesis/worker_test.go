package synthesis_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/jobqueue"
	"github.com/book-expert/narration-service/internal/provider"
	"github.com/book-expert/narration-service/internal/synthesis"
)

var errSynthBoom = errors.New("engine exploded")

type memCatalog struct {
	stories  map[string]core.Story
	sections map[string][]core.Section
	voices   map[string]core.VoiceProfile
}

func (c *memCatalog) Story(_ context.Context, id string) (core.Story, error) {
	story, ok := c.stories[id]
	if !ok {
		return core.Story{}, core.ErrStoryNotFound
	}

	return story, nil
}

func (c *memCatalog) SectionsByStory(_ context.Context, storyID string) ([]core.Section, error) {
	return c.sections[storyID], nil
}

func (c *memCatalog) Voice(_ context.Context, id string) (core.VoiceProfile, error) {
	voice, ok := c.voices[id]
	if !ok {
		return core.VoiceProfile{}, core.ErrVoiceNotFound
	}

	return voice, nil
}

type memAudioStore struct {
	mu      sync.Mutex
	records map[string]core.SectionAudio
	order   []string
}

func newMemAudioStore() *memAudioStore {
	return &memAudioStore{records: make(map[string]core.SectionAudio)}
}

func (s *memAudioStore) Upsert(
	_ context.Context,
	sectionID, voiceID string,
	update core.SectionAudioUpdate,
) (core.SectionAudio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sectionID + "/" + voiceID

	record, ok := s.records[key]
	if !ok {
		record = core.SectionAudio{SectionID: sectionID, VoiceID: voiceID}
		s.order = append(s.order, key)
	}

	record.Status = update.Status

	if update.AudioURL != nil {
		record.AudioURL = *update.AudioURL
	}

	if update.DurationSec != nil {
		record.DurationSec = *update.DurationSec
	}

	if update.Checksum != nil {
		record.Checksum = *update.Checksum
	}

	if update.Transcript != nil {
		record.Transcript = *update.Transcript
	}

	// Error text only survives on ERROR rows, matching the SQL store.
	if update.Status == core.StatusError {
		if update.Error != nil {
			record.Error = *update.Error
		}
	} else {
		record.Error = ""
	}

	if update.Metadata != nil {
		record.Metadata = update.Metadata
	}

	if update.StartedAt != nil {
		record.StartedAt = update.StartedAt
	}

	if update.CompletedAt != nil {
		record.CompletedAt = update.CompletedAt
	}

	s.records[key] = record

	return record, nil
}

func (s *memAudioStore) ListByStoryVoice(
	_ context.Context,
	_, voiceID string,
) ([]core.SectionAudio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]core.SectionAudio, 0, len(s.records))

	for _, key := range s.order {
		record := s.records[key]
		if record.VoiceID == voiceID {
			records = append(records, record)
		}
	}

	return records, nil
}

func (s *memAudioStore) record(t *testing.T, sectionID, voiceID string) core.SectionAudio {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[sectionID+"/"+voiceID]
	require.True(t, ok, "expected a record for section %s", sectionID)

	return record
}

func (s *memAudioStore) has(sectionID, voiceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[sectionID+"/"+voiceID]

	return ok
}

// scriptedSynthesizer fails the sections named in failOn and records the
// order requests arrive in.
type scriptedSynthesizer struct {
	mu       sync.Mutex
	requests []core.SynthesisRequest
	failOn   map[string]bool
}

func (s *scriptedSynthesizer) Synthesize(
	_ context.Context,
	req core.SynthesisRequest,
) (core.SynthesisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if s.failOn[req.SectionID] {
		return core.SynthesisResult{}, fmt.Errorf("%w: %w", core.ErrSynthesisFailed, errSynthBoom)
	}

	return core.SynthesisResult{
		Key:         req.StoryID + "/" + req.SectionID + ".wav",
		URL:         "https://audio.test/" + req.StoryID + "/" + req.SectionID + ".wav",
		DurationSec: 1.5,
		Checksum:    "abc123",
		Transcript:  req.Text,
	}, nil
}

type recordingExecution struct {
	mu        sync.Mutex
	progress  []int
	cancelled bool
}

func (e *recordingExecution) UpdateProgress(percent int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.progress = append(e.progress, percent)
}

func (e *recordingExecution) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cancelled
}

func testCatalog() *memCatalog {
	return &memCatalog{
		stories: map[string]core.Story{
			"story-1": {ID: "story-1", Title: "The Lighthouse"},
		},
		sections: map[string][]core.Section{
			"story-1": {
				{ID: "sec-c", StoryID: "story-1", Index: 2, Text: "Third part."},
				{ID: "sec-a", StoryID: "story-1", Index: 0, Text: "First part."},
				{ID: "sec-b", StoryID: "story-1", Index: 1, Text: "Second part."},
			},
		},
		voices: map[string]core.VoiceProfile{
			"voice-1": {
				ID:          "voice-1",
				Provider:    "local",
				ProviderRef: "/voices/papa.wav",
				ModelID:     "vibevoice-large",
			},
			"voice-empty": {ID: "voice-empty", Provider: "local"},
		},
	}
}

func newTestWorker(
	t *testing.T,
	catalog *memCatalog,
	audio *memAudioStore,
	synthesizer core.Synthesizer,
) *synthesis.Worker {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synthesis-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	registry := provider.NewRegistry()
	registry.Register(provider.NameLocal, synthesizer)

	return synthesis.NewWorker(catalog, audio, registry, log)
}

func TestWorkerRunSynthesizesAllSectionsInOrder(t *testing.T) {
	t.Parallel()

	audio := newMemAudioStore()
	engine := &scriptedSynthesizer{}
	worker := newTestWorker(t, testCatalog(), audio, engine)
	execution := &recordingExecution{}

	result, err := worker.Run(
		context.Background(),
		jobqueue.Payload{StoryID: "story-1", VoiceID: "voice-1"},
		execution,
	)
	require.NoError(t, err)

	assert.Equal(t, "story-1", result.StoryID)
	assert.Equal(t, "voice-1", result.VoiceID)
	assert.Equal(t, 3, result.Sections)

	require.Len(t, engine.requests, 3)
	assert.Equal(t, "sec-a", engine.requests[0].SectionID)
	assert.Equal(t, "sec-b", engine.requests[1].SectionID)
	assert.Equal(t, "sec-c", engine.requests[2].SectionID)
	assert.Equal(t, "/voices/papa.wav", engine.requests[0].VoiceRef)

	for _, sectionID := range []string{"sec-a", "sec-b", "sec-c"} {
		record := audio.record(t, sectionID, "voice-1")
		assert.Equal(t, core.StatusComplete, record.Status)
		assert.NotEmpty(t, record.AudioURL)
		assert.Equal(t, "abc123", record.Checksum)
		assert.NotNil(t, record.StartedAt)
		assert.NotNil(t, record.CompletedAt)
	}

	assert.Equal(t, []int{0, 33, 67, 100}, execution.progress)
}

func TestWorkerRunAbortsOnFirstSectionFailure(t *testing.T) {
	t.Parallel()

	audio := newMemAudioStore()
	engine := &scriptedSynthesizer{failOn: map[string]bool{"sec-b": true}}
	worker := newTestWorker(t, testCatalog(), audio, engine)

	_, err := worker.Run(
		context.Background(),
		jobqueue.Payload{StoryID: "story-1", VoiceID: "voice-1"},
		&recordingExecution{},
	)
	require.Error(t, err)
	require.ErrorIs(t, err, core.ErrSynthesisFailed)

	first := audio.record(t, "sec-a", "voice-1")
	assert.Equal(t, core.StatusComplete, first.Status)

	failed := audio.record(t, "sec-b", "voice-1")
	assert.Equal(t, core.StatusError, failed.Status)
	assert.Contains(t, failed.Error, "engine exploded")
	assert.NotNil(t, failed.CompletedAt)

	// The remaining section is never attempted.
	assert.False(t, audio.has("sec-c", "voice-1"))
	require.Len(t, engine.requests, 2)
}

func TestWorkerRunSkipsCompletedSections(t *testing.T) {
	t.Parallel()

	audio := newMemAudioStore()

	_, err := audio.Upsert(context.Background(), "sec-b", "voice-1", core.SectionAudioUpdate{
		Status:   core.StatusComplete,
		AudioURL: core.StringPtr("https://audio.test/story-1/sec-b.wav"),
	})
	require.NoError(t, err)

	engine := &scriptedSynthesizer{}
	worker := newTestWorker(t, testCatalog(), audio, engine)

	result, err := worker.Run(
		context.Background(),
		jobqueue.Payload{StoryID: "story-1", VoiceID: "voice-1"},
		&recordingExecution{},
	)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Sections)

	sectionIDs := make([]string, 0, len(engine.requests))
	for _, req := range engine.requests {
		sectionIDs = append(sectionIDs, req.SectionID)
	}

	sort.Strings(sectionIDs)
	assert.Equal(t, []string{"sec-a", "sec-c"}, sectionIDs)
}

func TestWorkerRunForceResynthesizesCompletedSections(t *testing.T) {
	t.Parallel()

	audio := newMemAudioStore()

	_, err := audio.Upsert(context.Background(), "sec-b", "voice-1", core.SectionAudioUpdate{
		Status:   core.StatusComplete,
		AudioURL: core.StringPtr("https://audio.test/story-1/sec-b.wav"),
	})
	require.NoError(t, err)

	engine := &scriptedSynthesizer{}
	worker := newTestWorker(t, testCatalog(), audio, engine)

	_, err = worker.Run(
		context.Background(),
		jobqueue.Payload{StoryID: "story-1", VoiceID: "voice-1", Force: true},
		&recordingExecution{},
	)
	require.NoError(t, err)
	require.Len(t, engine.requests, 3)
}

func TestWorkerRunRecoversSectionFromEarlierFailure(t *testing.T) {
	t.Parallel()

	audio := newMemAudioStore()

	_, err := audio.Upsert(context.Background(), "sec-b", "voice-1", core.SectionAudioUpdate{
		Status: core.StatusError,
		Error:  core.StringPtr("engine exploded"),
	})
	require.NoError(t, err)

	engine := &scriptedSynthesizer{}
	worker := newTestWorker(t, testCatalog(), audio, engine)

	_, err = worker.Run(
		context.Background(),
		jobqueue.Payload{StoryID: "story-1", VoiceID: "voice-1", Force: true},
		&recordingExecution{},
	)
	require.NoError(t, err)

	record := audio.record(t, "sec-b", "voice-1")
	assert.Equal(t, core.StatusComplete, record.Status)
	assert.NotEmpty(t, record.AudioURL)
	assert.Empty(t, record.Error, "a recovered section must not carry the old failure")
}

func TestWorkerRunStopsWhenCancelled(t *testing.T) {
	t.Parallel()

	audio := newMemAudioStore()
	engine := &scriptedSynthesizer{}
	worker := newTestWorker(t, testCatalog(), audio, engine)
	execution := &recordingExecution{cancelled: true}

	_, err := worker.Run(
		context.Background(),
		jobqueue.Payload{StoryID: "story-1", VoiceID: "voice-1"},
		execution,
	)
	require.ErrorIs(t, err, jobqueue.ErrCancelled)
	assert.Empty(t, engine.requests)
	assert.Empty(t, execution.progress)
}

func TestWorkerRunPreconditionFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload jobqueue.Payload
		setup   func(catalog *memCatalog)
		wantErr error
	}{
		{
			name:    "unknown story",
			payload: jobqueue.Payload{StoryID: "missing", VoiceID: "voice-1"},
			setup:   func(*memCatalog) {},
			wantErr: core.ErrStoryNotFound,
		},
		{
			name:    "unknown voice",
			payload: jobqueue.Payload{StoryID: "story-1", VoiceID: "missing"},
			setup:   func(*memCatalog) {},
			wantErr: core.ErrVoiceNotFound,
		},
		{
			name:    "voice without reference audio",
			payload: jobqueue.Payload{StoryID: "story-1", VoiceID: "voice-empty"},
			setup:   func(*memCatalog) {},
			wantErr: core.ErrVoiceNotReady,
		},
		{
			name:    "story without sections",
			payload: jobqueue.Payload{StoryID: "story-1", VoiceID: "voice-1"},
			setup: func(catalog *memCatalog) {
				catalog.sections["story-1"] = nil
			},
			wantErr: core.ErrNoSections,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			catalog := testCatalog()
			testCase.setup(catalog)

			engine := &scriptedSynthesizer{}
			worker := newTestWorker(t, catalog, newMemAudioStore(), engine)

			_, err := worker.Run(context.Background(), testCase.payload, &recordingExecution{})
			require.ErrorIs(t, err, testCase.wantErr)
			assert.Empty(t, engine.requests)
		})
	}
}
