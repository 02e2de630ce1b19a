package provider_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/provider"
)

func TestTranscriptionClientSubmitsMultipartAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)

		defer func() { _ = file.Close() }()

		assert.Equal(t, "sec-1.wav", header.Filename)

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "fake wav bytes", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "hello narrated world"}`))
	}))

	t.Cleanup(server.Close)

	client := provider.NewTranscriptionClient(server.URL, "secret", "whisper-1", "en")

	text, err := client.Transcribe(
		context.Background(),
		core.SynthesisRequest{SectionID: "sec-1"},
		strings.NewReader("fake wav bytes"),
	)
	require.NoError(t, err)
	assert.Equal(t, "hello narrated world", text)
}

func TestTranscriptionClientReportsAPIFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))

	t.Cleanup(server.Close)

	client := provider.NewTranscriptionClient(server.URL, "", "whisper-1", "")

	_, err := client.Transcribe(
		context.Background(),
		core.SynthesisRequest{SectionID: "sec-1"},
		strings.NewReader("fake wav bytes"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
