// Package provider implements the TTS backends behind the core.Synthesizer
// interface and the registry that resolves a voice profile's provider
// selector to a configured backend.
package provider

import (
	"errors"
	"fmt"

	"github.com/book-expert/narration-service/internal/core"
)

// Name identifies a known TTS backend. The set is closed: a provider string
// outside this set is a configuration error, never a silent fallback.
type Name string

const (
	// NameLocal is the subprocess-based engine running on this host.
	NameLocal Name = "local"
	// NameRemote is the streaming HTTP engine backed by a cloud TTS service.
	NameRemote Name = "remote"
)

var (
	// ErrUnknownProvider indicates a provider selector outside the known set.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNotConfigured indicates a known provider that was not configured.
	ErrNotConfigured = errors.New("provider not configured")
)

// ParseName validates a provider selector against the known set.
func ParseName(s string) (Name, error) {
	switch Name(s) {
	case NameLocal, NameRemote:
		return Name(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
	}
}

// Registry holds the constructed synthesizer per provider name. It is built
// explicitly from configuration at startup; nothing registers itself.
type Registry struct {
	synthesizers map[Name]core.Synthesizer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{synthesizers: make(map[Name]core.Synthesizer)}
}

// Register installs a synthesizer under the given name, replacing any
// previous registration.
func (r *Registry) Register(name Name, synthesizer core.Synthesizer) {
	r.synthesizers[name] = synthesizer
}

// Resolve maps a voice profile's provider selector to its synthesizer.
// Unknown selectors and unconfigured providers fail fast.
func (r *Registry) Resolve(selector string) (core.Synthesizer, error) {
	name, err := ParseName(selector)
	if err != nil {
		return nil, err
	}

	synthesizer, ok := r.synthesizers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotConfigured, name)
	}

	return synthesizer, nil
}
