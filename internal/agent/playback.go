package agent

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/telemetry"
	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

// playbackLoop is the single consumer of the sentence queue, so at most one
// sentence is being synthesized or played at a time.
func (s *Session) playbackLoop() {
	for {
		j, ok := s.queue.pop()
		if !ok {
			return
		}
		s.play(j)
		s.queue.finish()
		j.done()
	}
}

func (s *Session) stale(j job) bool {
	return s.gen.Load() != j.gen
}

// play synthesizes, decodes and sends one sentence. The generation is checked
// before every blocking step and before each frame.
func (s *Session) play(j job) {
	if s.stale(j) {
		s.log.Debug("skipping stale sentence", zap.Int64("gen", j.gen), zap.Int("index", j.index))
		return
	}
	s.bargingIn.Store(false)

	tags := map[string]any{"gen": j.gen, "sentenceIndex": j.index}
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(j.ctx, "agent.sentence", trace.WithAttributes(
		attribute.Int64("generation", j.gen),
		attribute.Int("index", j.index),
	))
	defer span.End()
	log := s.log.With(zap.Int64("gen", j.gen), zap.Int("index", j.index))

	stream, err := s.deps.Synthesizer.Synthesize(ctx, j.text, s.cfg.VoiceID)
	s.rec.Since(telemetry.TTSFetch, start, tags)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("synthesis failed, dropping sentence", zap.Error(err))
			span.RecordError(err)
		}
		return
	}
	defer stream.Close()
	if s.stale(j) {
		return
	}

	decStart := time.Now()
	pcm, err := s.deps.Decoder.Decode(ctx, stream)
	s.rec.Since(telemetry.Decode, decStart, tags)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("decode failed, dropping sentence", zap.Error(err))
			span.RecordError(err)
		}
		return
	}
	if s.stale(j) {
		return
	}

	frames := audio.Frames(pcm, audio.FrameSamples)
	if j.index == 1 {
		s.rec.Since(telemetry.TurnToFirstAudio, j.turnStart, tags)
	}

	sendStart := time.Now()
	sent := 0
	for _, f := range frames {
		if !s.sendFrame(j, f, sent == 0, log) {
			break
		}
		sent++
	}
	s.speaking.Store(false)
	s.genMu.RLock()
	if s.streaming.Load() == j.gen && !s.stale(j) {
		s.setState(StateGenerating)
	}
	s.genMu.RUnlock()
	s.rec.Since(telemetry.FrameSend, sendStart, tags)
	s.rec.Since(telemetry.TTSSentenceTotal, start, tags)
	span.SetAttributes(attribute.Int("frames_sent", sent), attribute.Int("frames_total", len(frames)))
	if sent < len(frames) {
		log.Debug("sentence cut short", zap.Int("sent", sent), zap.Int("total", len(frames)))
	}
}

// sendFrame holds the generation read lock so the generation cannot advance
// between the check and the capture. The first accepted frame of a sentence
// marks the session as speaking.
func (s *Session) sendFrame(j job, f []int16, first bool, log *zap.Logger) bool {
	s.genMu.RLock()
	defer s.genMu.RUnlock()
	if s.stale(j) || s.bargingIn.Load() {
		return false
	}
	if err := s.deps.Sink.CaptureFrame(j.ctx, f); err != nil {
		if errors.Is(err, voiceerr.ErrFrameRejected) {
			log.Warn("frame rejected, stopping sentence", zap.Error(err))
		}
		return false
	}
	if first {
		s.speaking.Store(true)
		s.setState(StateSpeaking)
	}
	return true
}
