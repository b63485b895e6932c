// Package tts contains the speech synthesizer clients. Each returns an encoded
// audio.Stream for one sentence; decoding happens downstream.
package tts

import (
	"context"

	"github.com/ansh-stack00/svaraAI/internal/audio"
)

// Synthesizer produces audio for one sentence in the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (audio.Stream, error)
}

var (
	_ Synthesizer = (*ElevenLabsClient)(nil)
	_ Synthesizer = (*DeepgramClient)(nil)
)

// New returns the synthesizer named by kind. Unknown kinds fall back to
// ElevenLabs.
func New(kind, elevenKey, elevenModel string, elevenLatency int, deepgramKey, deepgramModel string) Synthesizer {
	if kind == "deepgram" {
		return NewDeepgramClient(deepgramKey, deepgramModel)
	}
	return NewElevenLabsClient(elevenKey, elevenModel, elevenLatency)
}
