package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/book-expert/narration-service/internal/core"
)

const transcribeTimeout = 60 * time.Second

// TranscriptionClient transcribes synthesized audio through a Whisper-style
// HTTP API. It is optional: engines fall back to echoing the input text as
// the transcript when no client is configured.
type TranscriptionClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	language   string
}

// NewTranscriptionClient creates a transcription client. BaseURL is the full
// transcription endpoint.
func NewTranscriptionClient(baseURL, apiKey, model, language string) *TranscriptionClient {
	return &TranscriptionClient{
		httpClient: &http.Client{Timeout: transcribeTimeout},
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		language:   language,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe submits WAV audio and returns the recognized text.
func (c *TranscriptionClient) Transcribe(
	ctx context.Context,
	req core.SynthesisRequest,
	audio io.Reader,
) (string, error) {
	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.SectionID+".wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}

	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}

	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}

	if c.language != "" {
		if err := writer.WriteField("language", c.language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("make request: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)

		return "", fmt.Errorf(
			"transcription request failed with status %d: %s",
			resp.StatusCode, string(detail),
		)
	}

	var decoded transcriptionResponse

	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return decoded.Text, nil
}
