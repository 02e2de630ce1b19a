// Package store_test tests the SQLite catalog and section audio persistence.
package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	testStore, err := store.Open(filepath.Join(t.TempDir(), "narration.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, testStore.Close())
	})

	return testStore
}

func seedStory(t *testing.T, testStore *store.Store) {
	t.Helper()

	ctx := context.Background()

	err := testStore.PutStory(ctx, core.Story{ID: "story-1", Title: "The Quiet Fox"}, []core.Section{
		{ID: "sec-c", StoryID: "story-1", Index: 2, Text: "The end."},
		{ID: "sec-a", StoryID: "story-1", Index: 0, Text: "Once upon a time."},
		{ID: "sec-b", StoryID: "story-1", Index: 1, Text: "A fox appeared."},
	})
	require.NoError(t, err)

	err = testStore.PutVoice(ctx, core.VoiceProfile{
		ID:          "voice-1",
		Provider:    "local",
		ProviderRef: "/voices/papa.wav",
	})
	require.NoError(t, err)
}

func TestCatalogReads(t *testing.T) {
	t.Parallel()

	testStore := openTestStore(t)
	seedStory(t, testStore)

	ctx := context.Background()

	story, err := testStore.Story(ctx, "story-1")
	require.NoError(t, err)
	assert.Equal(t, "The Quiet Fox", story.Title)

	sections, err := testStore.SectionsByStory(ctx, "story-1")
	require.NoError(t, err)
	require.Len(t, sections, 3)

	// Sections come back ordered by index regardless of insertion order.
	assert.Equal(t, []string{"sec-a", "sec-b", "sec-c"}, []string{
		sections[0].ID, sections[1].ID, sections[2].ID,
	})

	voice, err := testStore.Voice(ctx, "voice-1")
	require.NoError(t, err)
	assert.Equal(t, "/voices/papa.wav", voice.ProviderRef)
}

func TestCatalogMisses(t *testing.T) {
	t.Parallel()

	testStore := openTestStore(t)

	ctx := context.Background()

	_, err := testStore.Story(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrStoryNotFound)

	_, err = testStore.Voice(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrVoiceNotFound)
}

func TestUpsertCreatesThenMerges(t *testing.T) {
	t.Parallel()

	testStore := openTestStore(t)
	seedStory(t, testStore)

	ctx := context.Background()
	started := time.Now().UTC()

	created, err := testStore.Upsert(ctx, "sec-a", "voice-1", core.SectionAudioUpdate{
		Status:    core.StatusProcessing,
		StartedAt: core.TimePtr(started),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, created.Status)
	require.NotNil(t, created.StartedAt)
	assert.Empty(t, created.AudioURL)

	completed, err := testStore.Upsert(ctx, "sec-a", "voice-1", core.SectionAudioUpdate{
		Status:      core.StatusComplete,
		AudioURL:    core.StringPtr("/audio/sec-a.wav"),
		DurationSec: core.Float64Ptr(12.5),
		Checksum:    core.StringPtr("abc123"),
		Metadata:    map[string]string{"key": "story-1/sec-a.wav"},
		CompletedAt: core.TimePtr(time.Now().UTC()),
	})
	require.NoError(t, err)

	assert.Equal(t, created.ID, completed.ID, "upsert must merge, not create a second record")
	assert.Equal(t, core.StatusComplete, completed.Status)
	assert.Equal(t, "/audio/sec-a.wav", completed.AudioURL)
	assert.InEpsilon(t, 12.5, completed.DurationSec, 0.001)
	assert.Equal(t, "story-1/sec-a.wav", completed.Metadata["key"])

	// Fields omitted from the merge survive it.
	require.NotNil(t, completed.StartedAt)
	assert.WithinDuration(t, started, *completed.StartedAt, time.Second)
}

func TestUpsertClearsErrorWhenLeavingErrorStatus(t *testing.T) {
	t.Parallel()

	testStore := openTestStore(t)
	seedStory(t, testStore)

	ctx := context.Background()

	failed, err := testStore.Upsert(ctx, "sec-a", "voice-1", core.SectionAudioUpdate{
		Status: core.StatusError,
		Error:  core.StringPtr("engine exploded"),
	})
	require.NoError(t, err)
	assert.Equal(t, "engine exploded", failed.Error)

	retrying, err := testStore.Upsert(ctx, "sec-a", "voice-1", core.SectionAudioUpdate{
		Status:    core.StatusProcessing,
		StartedAt: core.TimePtr(time.Now().UTC()),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, retrying.Status)
	assert.Empty(t, retrying.Error, "a retry must not carry the previous failure")

	recovered, err := testStore.Upsert(ctx, "sec-a", "voice-1", core.SectionAudioUpdate{
		Status:   core.StatusComplete,
		AudioURL: core.StringPtr("/audio/sec-a.wav"),
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusComplete, recovered.Status)
	assert.Empty(t, recovered.Error)
	assert.Equal(t, "/audio/sec-a.wav", recovered.AudioURL)
}

func TestOneRecordPerPair(t *testing.T) {
	t.Parallel()

	testStore := openTestStore(t)
	seedStory(t, testStore)

	ctx := context.Background()

	for range 3 {
		_, err := testStore.Upsert(ctx, "sec-b", "voice-1", core.SectionAudioUpdate{
			Status: core.StatusQueued,
		})
		require.NoError(t, err)
	}

	records, err := testStore.ListByStoryVoice(ctx, "story-1", "voice-1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListByStoryVoiceOrdersByIndex(t *testing.T) {
	t.Parallel()

	testStore := openTestStore(t)
	seedStory(t, testStore)

	ctx := context.Background()

	// Write records in reverse section order.
	for _, sectionID := range []string{"sec-c", "sec-a"} {
		_, err := testStore.Upsert(ctx, sectionID, "voice-1", core.SectionAudioUpdate{
			Status: core.StatusComplete,
		})
		require.NoError(t, err)
	}

	records, err := testStore.ListByStoryVoice(ctx, "story-1", "voice-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "sec-a", records[0].SectionID)
	assert.Equal(t, "sec-c", records[1].SectionID)
}

func TestGetMissingRecord(t *testing.T) {
	t.Parallel()

	testStore := openTestStore(t)
	seedStory(t, testStore)

	_, err := testStore.Get(context.Background(), "sec-a", "voice-1")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
