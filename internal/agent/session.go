// Package agent runs the turn orchestrator for one call: finalized user
// utterances start generations, replies are cut into sentences, and sentences
// are synthesized and played one at a time until the next utterance
// interrupts them.
package agent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/logging"
	"github.com/ansh-stack00/svaraAI/internal/store"
	"github.com/ansh-stack00/svaraAI/internal/telemetry"
	"github.com/ansh-stack00/svaraAI/internal/transcript"
)

const persistTimeout = 10 * time.Second

// Deps are the session's collaborators.
type Deps struct {
	Generator   Generator
	Synthesizer Synthesizer
	Decoder     audio.Decoder
	Sink        FrameSink
	Store       TranscriptStore
	Notify      func(Message)
	Recorder    *telemetry.Recorder
	Logger      *zap.Logger
}

// Session owns one call's pipeline state. The event loop in Run is the only
// goroutine that starts turns, advances the generation or assigns sequence
// numbers; the playback worker reads them.
type Session struct {
	id   string
	cfg  Config
	deps Deps
	log  *zap.Logger
	rec  *telemetry.Recorder

	// genMu is held for reading across a frame's staleness check and capture,
	// and for writing while the generation advances.
	genMu     sync.RWMutex
	gen       atomic.Int64
	seq       atomic.Int64
	speaking  atomic.Bool
	// streaming is the generation whose token stream is still open, or 0.
	streaming atomic.Int64
	bargingIn atomic.Bool
	state     atomic.Int32

	queue      *jobQueue
	turnDone   chan turnResult
	stopped    chan struct{}
	cancelTurn context.CancelFunc
	turns      sync.WaitGroup
	writes     sync.WaitGroup
	closeSink  sync.Once
}

type turnResult struct {
	gen   int64
	reply string
}

func NewSession(cfg Config, deps Deps) *Session {
	if deps.Notify == nil {
		deps.Notify = func(Message) {}
	}
	if deps.Decoder == nil {
		deps.Decoder = audio.NewDecoder("mp3", "")
	}
	id := uuid.NewString()
	s := &Session{
		id:   id,
		cfg:  cfg,
		deps: deps,
		log: logging.OrNop(deps.Logger).With(
			zap.String("component", "agent"),
			zap.String("session_id", id),
			zap.String("call_id", cfg.CallID),
			zap.String("agent_id", cfg.AgentID),
		),
		rec:      deps.Recorder,
		queue:    newJobQueue(),
		turnDone: make(chan turnResult),
		stopped:  make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) ID() string            { return s.id }
func (s *Session) State() State          { return State(s.state.Load()) }
func (s *Session) Generation() int64     { return s.gen.Load() }
func (s *Session) Speaking() bool        { return s.speaking.Load() }
func (s *Session) SequenceNumber() int64 { return s.seq.Load() }

func (s *Session) setState(st State) {
	if prev := State(s.state.Swap(int32(st))); prev != st {
		s.log.Debug("state", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
}

// MarkReady records that adapters are connected and warm.
func (s *Session) MarkReady() {
	s.setState(StateReady)
}

// Run processes recognizer events until ctx is cancelled or events is
// closed, then tears the pipeline down. In-flight work is invalidated and
// waited for; the sink is closed exactly once.
func (s *Session) Run(ctx context.Context, events <-chan transcript.Event) error {
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.playbackLoop()
	}()
	s.setState(StateListening)

	for {
		select {
		case <-ctx.Done():
			s.teardown(workerDone)
			return nil
		case ev, ok := <-events:
			if !ok {
				s.teardown(workerDone)
				return nil
			}
			s.handleEvent(ctx, ev)
		case res := <-s.turnDone:
			s.finishTurn(res)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, ev transcript.Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	if !ev.IsFinal {
		if s.cfg.RelayInterim {
			final := false
			s.deps.Notify(Message{Type: "transcript", Speaker: store.SpeakerUser, Text: text, Final: &final})
		}
		return
	}
	s.startTurn(ctx, text)
}

// startTurn runs on the event loop.
func (s *Session) startTurn(ctx context.Context, text string) {
	turnStart := time.Now()
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	s.genMu.Lock()
	gen := s.gen.Add(1)
	s.genMu.Unlock()

	if s.speaking.Load() || s.queue.busy() {
		s.bargingIn.Store(true)
		s.speaking.Store(false)
		s.deps.Sink.Reset()
		s.log.Info("barge-in", zap.Int64("gen", gen))
	}
	if n := s.queue.reset(); n > 0 {
		s.log.Debug("abandoned queued sentences", zap.Int("count", n))
	}

	s.log.Info("user", zap.Int64("gen", gen), zap.String("text", text))
	s.deps.Notify(Message{Type: "transcript", Speaker: store.SpeakerUser, Text: text})
	s.persist(store.SpeakerUser, text)

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelTurn = cancel
	s.setState(StateGenerating)
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		reply := s.runTurn(turnCtx, gen, text, turnStart)
		select {
		case s.turnDone <- turnResult{gen: gen, reply: reply}:
		case <-s.stopped:
		}
	}()
}

// runTurn streams the reply, enqueues sentences and waits for them to drain.
// It returns the generated text, partial if the turn was interrupted.
func (s *Session) runTurn(ctx context.Context, gen int64, text string, turnStart time.Time) string {
	ctx, span := telemetry.Tracer().Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("call_id", s.cfg.CallID),
		attribute.Int64("generation", gen),
	))
	defer span.End()

	var (
		reply   strings.Builder
		seg     Segmenter
		index   int
		pending sync.WaitGroup
	)
	enqueue := func(sentence string) {
		if s.gen.Load() != gen {
			return
		}
		index++
		if index == 1 {
			s.rec.Since(telemetry.LLMFirstSentence, turnStart, map[string]any{"gen": gen})
		}
		pending.Add(1)
		s.queue.push(job{ctx: ctx, text: sentence, gen: gen, index: index, turnStart: turnStart, done: pending.Done})
	}

	openStart := time.Now()
	stream, err := s.deps.Generator.Open(ctx, s.cfg.SystemPrompt, text)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("generation failed", zap.Int64("gen", gen), zap.Error(err))
			span.RecordError(err)
		}
		return ""
	}
	s.rec.Since(telemetry.LLMStreamOpen, openStart, map[string]any{"gen": gen})
	s.streaming.Store(gen)

	first := true
	for stream.Next() {
		tok := stream.Token()
		if first {
			first = false
			s.rec.Since(telemetry.LLMFirstToken, turnStart, map[string]any{"gen": gen})
		}
		reply.WriteString(tok)
		for _, sentence := range seg.Push(tok) {
			enqueue(sentence)
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		s.log.Warn("generation stream ended with error", zap.Int64("gen", gen), zap.Error(err))
	}
	_ = stream.Close()
	s.streaming.CompareAndSwap(gen, 0)
	if rest := seg.Flush(); rest != "" {
		enqueue(rest)
	}
	s.rec.Since(telemetry.LLMTotal, openStart, map[string]any{"gen": gen, "sentences": index})
	span.SetAttributes(attribute.Int("sentences", index))

	pending.Wait()
	return strings.TrimSpace(reply.String())
}

// finishTurn runs on the event loop. A superseded turn records nothing.
func (s *Session) finishTurn(res turnResult) {
	if res.gen != s.gen.Load() {
		return
	}
	if res.reply != "" {
		s.log.Info("agent", zap.Int64("gen", res.gen), zap.String("text", res.reply))
		s.deps.Notify(Message{Type: "transcript", Speaker: store.SpeakerAgent, Text: res.reply})
		s.persist(store.SpeakerAgent, res.reply)
	}
	s.setState(StateListening)
}

// persist assigns the next sequence number now and writes in the background.
func (s *Session) persist(speaker, text string) {
	line := store.Line{
		CallID:         s.cfg.CallID,
		UserID:         s.cfg.UserID,
		Speaker:        speaker,
		Text:           text,
		IsFinal:        true,
		SequenceNumber: s.seq.Add(1),
	}
	if s.deps.Store == nil {
		return
	}
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.deps.Store.AppendTranscript(ctx, line); err != nil {
			s.log.Warn("transcript write failed",
				zap.String("speaker", speaker),
				zap.Int64("seq", line.SequenceNumber),
				zap.Error(err))
		}
	}()
}

func (s *Session) teardown(workerDone <-chan struct{}) {
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	s.genMu.Lock()
	s.gen.Add(1)
	s.genMu.Unlock()
	s.setState(StateEnding)
	s.bargingIn.Store(true)
	s.speaking.Store(false)
	s.queue.reset()
	close(s.stopped)

	s.turns.Wait()
	s.queue.close()
	<-workerDone
	s.writes.Wait()
	s.closeSink.Do(s.deps.Sink.Close)
	s.setState(StateClosed)
	s.log.Info("session closed", zap.Int64("lines", s.seq.Load()))
}
