package agent

import (
	"context"

	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/llm"
	"github.com/ansh-stack00/svaraAI/internal/store"
)

// Generator opens a streaming reply for one user utterance.
type Generator interface {
	Open(ctx context.Context, systemPrompt, userText string) (llm.TokenStream, error)
}

// Synthesizer fetches encoded audio for one sentence.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (audio.Stream, error)
}

// FrameSink is the outbound audio track. CaptureFrame blocks until the frame
// is accepted; Reset drops frames accepted but not yet played.
type FrameSink interface {
	CaptureFrame(ctx context.Context, frame []int16) error
	Reset()
	Close()
}

// TranscriptStore persists transcript lines.
type TranscriptStore interface {
	AppendTranscript(ctx context.Context, line store.Line) error
}

// Message is a control message sent to the client.
type Message struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
	Final   *bool  `json:"final,omitempty"`
}

// ReadyMessage tells the client the agent can hear and speak.
var ReadyMessage = Message{Type: "ready"}

// Config is the immutable per-call identity and behaviour.
type Config struct {
	CallID       string
	AgentID      string
	UserID       string
	Room         string
	SystemPrompt string
	VoiceID      string
	RelayInterim bool
}
