package core

import "errors"

// Precondition errors fail a job on its first worker step and are never
// retried automatically.
var (
	// ErrStoryNotFound indicates the requested story does not exist.
	ErrStoryNotFound = errors.New("story not found")
	// ErrVoiceNotFound indicates the requested voice profile does not exist.
	ErrVoiceNotFound = errors.New("voice not found")
	// ErrVoiceNotReady indicates the voice profile has no resolvable provider reference.
	ErrVoiceNotReady = errors.New("voice has no provider reference")
	// ErrNoSections indicates the story has no sections to narrate.
	ErrNoSections = errors.New("story has no sections")
)

// ErrSynthesisFailed is wrapped by every provider-side failure: invalid
// reference voice, unreachable backend, or no audio produced within the
// backend's timeout. The distributed queue backend may retry these.
var ErrSynthesisFailed = errors.New("synthesis failed")

// ErrNotFound is the generic lookup miss returned by stores and the job
// status surface.
var ErrNotFound = errors.New("not found")
