// Package core defines the domain types and capability interfaces shared by
// the narration synthesis pipeline.
package core

import "time"

// Story is the narrated unit of content. Its content is owned by the external
// ingestion system and is read-only to this service.
type Story struct {
	ID    string
	Title string
}

// Section is one ordered slice of a story's text. Index is 0-based and defines
// both synthesis order and playback order.
type Section struct {
	ID      string
	StoryID string
	Index   int
	Text    string
}

// VoiceProfile names the TTS backend to use and carries the opaque reference
// that backend resolves (for a cloned voice, typically a reference audio path
// or remote voice id).
type VoiceProfile struct {
	ID          string
	Provider    string
	ProviderRef string
	ModelID     string
}

// AudioStatus is the lifecycle state of one (section, voice) synthesis record.
type AudioStatus string

// Section audio lifecycle states. PENDING is implicit: a pair with no record
// yet has never been attempted.
const (
	StatusPending    AudioStatus = "PENDING"
	StatusQueued     AudioStatus = "QUEUED"
	StatusProcessing AudioStatus = "PROCESSING"
	StatusComplete   AudioStatus = "COMPLETE"
	StatusError      AudioStatus = "ERROR"
)

// SectionAudio records the synthesis state and artifact location for one
// (section, voice) pair. At most one record exists per pair.
type SectionAudio struct {
	ID          int64
	SectionID   string
	VoiceID     string
	Status      AudioStatus
	AudioURL    string
	DurationSec float64
	Checksum    string
	Transcript  string
	Error       string
	Metadata    map[string]string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SectionAudioUpdate carries the fields of an upsert. Nil pointers leave the
// existing column untouched; the status is always written.
type SectionAudioUpdate struct {
	Status      AudioStatus
	AudioURL    *string
	DurationSec *float64
	Checksum    *string
	Transcript  *string
	Error       *string
	Metadata    map[string]string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// SynthesisRequest is the input to a single provider call.
type SynthesisRequest struct {
	Text      string
	VoiceRef  string
	ModelID   string
	StoryID   string
	SectionID string
}

// SynthesisResult describes the durable artifact produced by a provider call.
// Key is the storage key inside the object store; URL is how the route layer
// serves it. DurationSec, Checksum, and Transcript are best-effort.
type SynthesisResult struct {
	Key         string
	URL         string
	DurationSec float64
	Checksum    string
	Transcript  string
}

// String pointer helper for SectionAudioUpdate fields.
func StringPtr(s string) *string { return &s }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }
