package core

import (
	"context"
	"io"
)

// StoryStore is the read-only view of the externally owned catalog: stories,
// their ordered sections, and voice profiles.
type StoryStore interface {
	Story(ctx context.Context, id string) (Story, error)
	SectionsByStory(ctx context.Context, storyID string) ([]Section, error)
	Voice(ctx context.Context, id string) (VoiceProfile, error)
}

// SectionAudioStore persists synthesis state per (section, voice) pair.
// Upsert creates the record on first write and merges supplied fields into
// the existing record on subsequent writes.
type SectionAudioStore interface {
	Upsert(ctx context.Context, sectionID, voiceID string, update SectionAudioUpdate) (SectionAudio, error)
	ListByStoryVoice(ctx context.Context, storyID, voiceID string) ([]SectionAudio, error)
}

// ObjectStore is the blob store audio artifacts are streamed into. Upload
// consumes the reader fully and returns the number of bytes written; URL maps
// a storage key to the address served to clients.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data io.Reader) (int64, error)
	URL(key string) string
}

// Synthesizer turns one section's text into a durable audio artifact. A failed
// call returns an error wrapping ErrSynthesisFailed.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error)
}
