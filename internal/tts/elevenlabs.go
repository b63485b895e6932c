package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsClient synthesizes mp3 over the HTTP streaming endpoint.
type ElevenLabsClient struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Model      string
	// Latency is optimize_streaming_latency (0..4, higher is faster).
	Latency int
}

func NewElevenLabsClient(apiKey, model string, latency int) *ElevenLabsClient {
	if model == "" {
		model = "eleven_flash_v2_5"
	}
	return &ElevenLabsClient{
		HTTPClient: &http.Client{Timeout: 0},
		BaseURL:    elevenLabsBaseURL,
		APIKey:     apiKey,
		Model:      model,
		Latency:    latency,
	}
}

type elevenLabsRequest struct {
	Text                     string `json:"text"`
	ModelID                  string `json:"model_id"`
	OptimizeStreamingLatency int    `json:"optimize_streaming_latency"`
}

// Synthesize opens the stream for text. The caller owns the returned body.
func (e *ElevenLabsClient) Synthesize(ctx context.Context, text, voiceID string) (audio.Stream, error) {
	if e.APIKey == "" || voiceID == "" {
		return audio.Stream{}, fmt.Errorf("%w: elevenlabs api key or voice id missing", voiceerr.ErrSynthesisFailed)
	}
	body, _ := json.Marshal(elevenLabsRequest{Text: text, ModelID: e.Model, OptimizeStreamingLatency: e.Latency})
	endpoint := strings.TrimRight(e.BaseURL, "/") + "/v1/text-to-speech/" + voiceID + "/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return audio.Stream{}, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.APIKey)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return audio.Stream{}, ctx.Err()
		}
		return audio.Stream{}, fmt.Errorf("%w: elevenlabs: %v", voiceerr.ErrSynthesisFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return audio.Stream{}, fmt.Errorf("%w: elevenlabs status=%d body=%s", voiceerr.ErrSynthesisFailed, resp.StatusCode, string(b))
	}
	return audio.Stream{ReadCloser: resp.Body, Encoding: audio.EncodingMP3}, nil
}
