package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrEngineURLRequired is returned when the engine base URL is not provided.
var ErrEngineURLRequired = errors.New("tts: engine URL is required")

// HTTPEngine is an Engine backed by a synthesis sidecar service. The
// sidecar owns the models; this client only moves text in and WAV out.
type HTTPEngine struct {
	name       string
	baseURL    string
	canClone   bool
	httpClient *http.Client
}

// Compile-time check that HTTPEngine implements Engine.
var _ Engine = (*HTTPEngine)(nil)

// EngineOption is a function that configures an HTTPEngine.
type EngineOption func(*HTTPEngine)

// WithEngineHTTPClient sets a custom HTTP client.
func WithEngineHTTPClient(c *http.Client) EngineOption {
	return func(e *HTTPEngine) {
		e.httpClient = c
	}
}

// NewHTTPEngine creates an engine client for the sidecar at baseURL.
// Per-call deadlines come from the caller's context, so the underlying
// client carries no timeout of its own.
func NewHTTPEngine(name, baseURL string, canClone bool, opts ...EngineOption) (*HTTPEngine, error) {
	if baseURL == "" {
		return nil, ErrEngineURLRequired
	}

	e := &HTTPEngine{
		name:       name,
		baseURL:    baseURL,
		canClone:   canClone,
		httpClient: &http.Client{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Name returns the engine identifier used in configuration.
func (e *HTTPEngine) Name() string {
	return e.name
}

// SupportsCloning reports whether the sidecar can clone voices.
func (e *HTTPEngine) SupportsCloning() bool {
	return e.canClone
}

type synthesizeRequest struct {
	Text            string  `json:"text"`
	Speed           float64 `json:"speed"`
	Pitch           float64 `json:"pitch"`
	Emotion         string  `json:"emotion,omitempty"`
	Speaker         string  `json:"speaker,omitempty"`
	ReferenceBase64 string  `json:"reference_b64,omitempty"`
}

type synthesizeResponse struct {
	AudioBase64 string `json:"audio_b64"`
	Error       string `json:"error,omitempty"`
}

// SynthesizeBase renders text in the engine's stock voice.
func (e *HTTPEngine) SynthesizeBase(ctx context.Context, req Request, speaker string) ([]byte, error) {
	return e.synthesize(ctx, synthesizeRequest{
		Text:    req.Text,
		Speed:   req.Speed,
		Pitch:   req.Pitch,
		Emotion: req.Emotion,
		Speaker: speaker,
	})
}

// SynthesizeCloned renders text in a voice cloned from the reference audio.
func (e *HTTPEngine) SynthesizeCloned(ctx context.Context, req Request, referenceWAV []byte) ([]byte, error) {
	if !e.canClone {
		return nil, fmt.Errorf("%w: %s", ErrCloningUnsupported, e.name)
	}
	return e.synthesize(ctx, synthesizeRequest{
		Text:            req.Text,
		Speed:           req.Speed,
		Pitch:           req.Pitch,
		Emotion:         req.Emotion,
		ReferenceBase64: base64.StdEncoding.EncodeToString(referenceWAV),
	})
}

func (e *HTTPEngine) synthesize(ctx context.Context, body synthesizeRequest) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/synthesize", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: %s request failed: %w", e.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tts: %s returned status %d: %s", e.name, resp.StatusCode, string(respBody))
	}

	var parsed synthesizeResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("tts: unmarshal response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("tts: %s synthesis failed: %s", e.name, parsed.Error)
	}
	if parsed.AudioBase64 == "" {
		return nil, ErrEmptyAudio
	}

	audio, err := base64.StdEncoding.DecodeString(parsed.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("tts: decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}
