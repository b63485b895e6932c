// Package transcript holds the streaming speech recognizer adapters.
package transcript

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ansh-stack00/svaraAI/internal/logging"
)

// Event is one recognizer result. Only final events start a turn.
type Event struct {
	Text    string
	IsFinal bool
}

// Recognizer is a duplex streaming connection. Audio is pipeline PCM (mono,
// 48 kHz, s16). Events is closed once the recognizer has stopped.
type Recognizer interface {
	Connect(ctx context.Context) error
	SendPCM(pcm []int16) error
	Events() <-chan Event
	Close() error
}

var (
	_ Recognizer = (*DeepgramService)(nil)
	_ Recognizer = (*AssemblyAIService)(nil)
)

// Options selects and configures a recognizer.
type Options struct {
	Kind          string
	DeepgramKey   string
	DeepgramModel string
	AssemblyAIKey string

	// Interim asks the provider for non-final results too.
	Interim bool
	// ConnectTimeout bounds the dial; zero keeps the 5 s default.
	ConnectTimeout time.Duration
	Logger         *zap.Logger
}

// New returns the recognizer named by o.Kind ("deepgram" or "assemblyai").
func New(o Options) Recognizer {
	log := logging.OrNop(o.Logger)
	if strings.EqualFold(o.Kind, "assemblyai") {
		a := NewAssemblyAIService(o.AssemblyAIKey, log)
		if o.ConnectTimeout > 0 {
			a.ConnectTimeout = o.ConnectTimeout
		}
		return a
	}
	d := NewDeepgramService(o.DeepgramKey, o.DeepgramModel, log)
	d.Interim = o.Interim
	if o.ConnectTimeout > 0 {
		d.ConnectTimeout = o.ConnectTimeout
	}
	return d
}

const sendBuffer = 256
