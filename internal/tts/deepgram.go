package tts

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

// DeepgramClient synthesizes linear16 PCM over the speak websocket.
type DeepgramClient struct {
	apiKey     string
	model      string
	sampleRate int

	// idle ends the stream once audio has started and then paused this long.
	idle     time.Duration
	deadline time.Duration
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{
		apiKey:     apiKey,
		model:      model,
		sampleRate: audio.SampleRate,
		idle:       400 * time.Millisecond,
		deadline:   12 * time.Second,
	}
}

// Synthesize returns a PCM stream. Deepgram voices are models, so a voice id
// that names an aura model overrides the configured default.
func (d *DeepgramClient) Synthesize(ctx context.Context, text, voiceID string) (audio.Stream, error) {
	if d.apiKey == "" {
		return audio.Stream{}, fmt.Errorf("%w: deepgram api key missing", voiceerr.ErrSynthesisFailed)
	}
	model := d.model
	if strings.HasPrefix(voiceID, "aura") {
		model = voiceID
	}

	pr, pw := io.Pipe()
	var lastRecv atomic.Int64
	var seenAudio atomic.Bool
	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		lastRecv.Store(time.Now().UnixNano())
		seenAudio.Store(true)
		_, err := pw.Write(data)
		return err
	}}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   "linear16",
		SampleRate: d.sampleRate,
	}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return audio.Stream{}, fmt.Errorf("%w: deepgram create ws client: %v", voiceerr.ErrSynthesisFailed, err)
	}
	if ok := dg.Connect(); !ok {
		return audio.Stream{}, fmt.Errorf("%w: deepgram connect failed", voiceerr.ErrSynthesisFailed)
	}
	if err := dg.SpeakWithText(text); err != nil {
		dg.Stop()
		return audio.Stream{}, fmt.Errorf("%w: deepgram speak text: %v", voiceerr.ErrSynthesisFailed, err)
	}
	if err := dg.Flush(); err != nil {
		dg.Stop()
		return audio.Stream{}, fmt.Errorf("%w: deepgram flush: %v", voiceerr.ErrSynthesisFailed, err)
	}

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			dg.Stop()
			pw.CloseWithError(err)
		})
	}
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(d.deadline)
		for {
			select {
			case <-ctx.Done():
				finish(ctx.Err())
				return
			case <-ticker.C:
				if seenAudio.Load() && time.Since(time.Unix(0, lastRecv.Load())) > d.idle {
					finish(nil)
					return
				}
				if time.Now().After(deadline) {
					finish(nil)
					return
				}
			}
		}
	}()

	return audio.Stream{
		ReadCloser: &pipeStream{PipeReader: pr, finish: finish},
		Encoding:   audio.EncodingLinear,
		SampleRate: d.sampleRate,
	}, nil
}

type pipeStream struct {
	*io.PipeReader
	finish func(error)
}

func (p *pipeStream) Close() error {
	p.finish(io.ErrClosedPipe)
	return p.PipeReader.Close()
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
