package narration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slidereel/internal/services"
)

// Response payloads above this are treated as provider misbehavior.
const maxTTSResponseBytes = 32 * 1024 * 1024

// HTTPProvider calls a remote text-to-speech endpoint. The endpoint accepts a
// JSON body and returns WAV audio.
type HTTPProvider struct {
	url    string
	apiKey string
	voice  string
	client *http.Client
}

// NewHTTPProvider constructs the remote TTS provider.
func NewHTTPProvider(url, apiKey, voice string, timeoutSeconds int) (*HTTPProvider, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("tts url required")
	}
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPProvider{
		url:    url,
		apiKey: apiKey,
		voice:  voice,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPProvider) Name() string { return "http" }

type ttsRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Format     string `json:"format"`
}

// Synthesize posts the narration text and returns the WAV response.
func (p *HTTPProvider) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, services.Wrap(services.ErrProvider, "synthesize", "http", "empty narration text", nil)
	}

	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	body, err := json.Marshal(ttsRequest{
		Text:       req.Text,
		Voice:      voice,
		SampleRate: SampleRate,
		Format:     "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, services.Wrap(services.ErrTimeout, "synthesize", "http", "tts request cancelled", err)
		}
		return nil, services.Wrap(services.ErrProvider, "synthesize", "http", "tts request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, services.Wrap(services.ErrProvider, "synthesize", "http",
			fmt.Sprintf("tts endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTTSResponseBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrProvider, "synthesize", "http", "read tts response", err)
	}
	if len(data) > maxTTSResponseBytes {
		return nil, services.Wrap(services.ErrProvider, "synthesize", "http", "tts response too large", nil)
	}
	if _, err := DecodeWAV(data); err != nil {
		return nil, services.Wrap(services.ErrProvider, "synthesize", "http", "tts response unusable", err)
	}
	return data, nil
}
