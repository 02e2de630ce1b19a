package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/narration-service/internal/core"
)

// API endpoints and headers of the remote synthesis service.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"

	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	contentTypeWAV      = "audio/wav"
)

const defaultLanguage = "en"

// RemoteConfig configures the streaming HTTP synthesis engine.
type RemoteConfig struct {
	// BaseURL includes protocol and port, e.g. "https://tts.example.com".
	BaseURL string
	// APIKey, when set, is sent as a bearer token.
	APIKey string
	// Language is the synthesis language code.
	Language string
	// Temperature controls randomness in speech generation.
	Temperature float64
	// Timeout applies to each HTTP request.
	Timeout time.Duration
}

// remoteRequest is the JSON payload of a synthesis request.
type remoteRequest struct {
	Text           string  `json:"text"`
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	ModelID        string  `json:"model_id,omitempty"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
}

// remoteErrorResponse is the structured error body of the remote service.
type remoteErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// RemoteEngine implements core.Synthesizer against a cloud TTS service. The
// response body is piped through a checksum transform directly into the
// object store; the clip is never buffered whole in memory.
type RemoteEngine struct {
	config     RemoteConfig
	httpClient *http.Client
	store      core.ObjectStore
	log        *logger.Logger
}

// NewRemoteEngine creates a streaming HTTP synthesizer writing artifacts to
// the given object store.
func NewRemoteEngine(config RemoteConfig, store core.ObjectStore, log *logger.Logger) (*RemoteEngine, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("%w: remote engine base URL is required", ErrNotConfigured)
	}

	if config.Language == "" {
		config.Language = defaultLanguage
	}

	return &RemoteEngine{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		store: store,
		log:   log,
	}, nil
}

// Synthesize issues the streaming request for one section and stores the
// resulting clip.
func (e *RemoteEngine) Synthesize(ctx context.Context, req core.SynthesisRequest) (core.SynthesisResult, error) {
	if req.Text == "" {
		return core.SynthesisResult{}, fmt.Errorf("%w: text is empty", core.ErrSynthesisFailed)
	}

	resp, err := e.send(ctx, req)
	if err != nil {
		return core.SynthesisResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.SynthesisResult{}, e.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return core.SynthesisResult{}, fmt.Errorf(
			"%w: unexpected content type: expected %s, got %s",
			core.ErrSynthesisFailed,
			contentTypeWAV,
			contentType,
		)
	}

	key := artifactKey(req)
	hash := sha256.New()

	written, uploadErr := e.store.Upload(ctx, key, io.TeeReader(resp.Body, hash))
	if uploadErr != nil {
		return core.SynthesisResult{}, fmt.Errorf(
			"%w: upload artifact '%s': %w", core.ErrSynthesisFailed, key, uploadErr,
		)
	}

	if written == 0 {
		return core.SynthesisResult{}, fmt.Errorf("%w: received empty audio data", core.ErrSynthesisFailed)
	}

	e.log.Info("Streamed %d bytes for section %s from %s", written, req.SectionID, e.config.BaseURL)

	return core.SynthesisResult{
		Key:        key,
		URL:        e.store.URL(key),
		Checksum:   hex.EncodeToString(hash.Sum(nil)),
		Transcript: req.Text,
	}, nil
}

// HealthCheck verifies the remote service is reachable and reports healthy.
func (e *RemoteEngine) HealthCheck(ctx context.Context) error {
	url := e.config.BaseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", e.config.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (e *RemoteEngine) send(ctx context.Context, req core.SynthesisRequest) (*http.Response, error) {
	payload := remoteRequest{
		Text:           req.Text,
		SpeakerRefPath: req.VoiceRef,
		ModelID:        req.ModelID,
		Language:       e.config.Language,
		Temperature:    e.config.Temperature,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := e.config.BaseURL + apiGenerateSpeech

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	if e.config.APIKey != "" {
		httpReq.Header.Set(headerAuthorization, "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: send request to TTS service at %s: %w",
			core.ErrSynthesisFailed,
			e.config.BaseURL,
			err,
		)
	}

	return resp, nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw
// body so diagnostics are never lost.
func (e *RemoteEngine) parseErrorResponse(resp *http.Response) error {
	var errorResp remoteErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(
			"%w: TTS service error (%s): %s (code: %s)",
			core.ErrSynthesisFailed,
			resp.Status,
			errorResp.Detail,
			errorResp.ErrorCode,
		)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		"%w: TTS service returned non-OK status: %s, body: %s",
		core.ErrSynthesisFailed,
		resp.Status,
		string(body),
	)
}
