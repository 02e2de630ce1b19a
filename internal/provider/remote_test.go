package provider_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/provider"
)

func newRemoteEngine(t *testing.T, baseURL string, store *memStore) *provider.RemoteEngine {
	t.Helper()

	engine, err := provider.NewRemoteEngine(provider.RemoteConfig{
		BaseURL:     baseURL,
		Language:    "en",
		Temperature: 0.75,
	}, store, testLogger(t))
	require.NoError(t, err)

	return engine
}

func TestRemoteEngineStreamsIntoStore(t *testing.T) {
	t.Parallel()

	audio := wavBytes(t, 2048)

	var gotRequest map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/generate/speech", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio)
	}))
	defer server.Close()

	store := newMemStore()
	engine := newRemoteEngine(t, server.URL, store)

	result, err := engine.Synthesize(context.Background(), core.SynthesisRequest{
		Text:      "A fox appeared.",
		VoiceRef:  "voices/mama-clone",
		StoryID:   "story-1",
		SectionID: "sec-b",
	})
	require.NoError(t, err)

	assert.Equal(t, "A fox appeared.", gotRequest["text"])
	assert.Equal(t, "voices/mama-clone", gotRequest["speaker_ref_path"])
	assert.Equal(t, "en", gotRequest["language"])

	stored, ok := store.objects[result.Key]
	require.True(t, ok)
	assert.Equal(t, audio, stored)

	sum := sha256.Sum256(audio)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Checksum)
	assert.Equal(t, "/audio/"+result.Key, result.URL)
}

func TestRemoteEngineStructuredError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"unknown reference voice","error_code":"VOICE_NOT_FOUND"}`))
	}))
	defer server.Close()

	engine := newRemoteEngine(t, server.URL, newMemStore())

	_, err := engine.Synthesize(context.Background(), core.SynthesisRequest{
		Text:     "hello",
		VoiceRef: "missing",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSynthesisFailed)
	assert.Contains(t, err.Error(), "unknown reference voice")
	assert.Contains(t, err.Error(), "VOICE_NOT_FOUND")
}

func TestRemoteEngineRejectsWrongContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("not audio"))
	}))
	defer server.Close()

	engine := newRemoteEngine(t, server.URL, newMemStore())

	_, err := engine.Synthesize(context.Background(), core.SynthesisRequest{
		Text:     "hello",
		VoiceRef: "voices/mama-clone",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestRemoteEngineRejectsEmptyAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
	}))
	defer server.Close()

	engine := newRemoteEngine(t, server.URL, newMemStore())

	_, err := engine.Synthesize(context.Background(), core.SynthesisRequest{
		Text:     "hello",
		VoiceRef: "voices/mama-clone",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty audio")
}

func TestRemoteEngineHealthCheck(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)

			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	engine := newRemoteEngine(t, server.URL, newMemStore())

	require.NoError(t, engine.HealthCheck(context.Background()))
}

func TestRemoteEngineRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := provider.NewRemoteEngine(provider.RemoteConfig{}, newMemStore(), testLogger(t))
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
}
