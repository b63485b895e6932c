package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

const assemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

// Turn end detection defaults. AssemblyAI streams running transcripts; an
// utterance is final once both text and voice energy have been quiet.
const (
	silenceThreshold      = 700 * time.Millisecond
	continuationExtension = 1200 * time.Millisecond
	stabilizationGrace    = 250 * time.Millisecond
	voiceRMS              = 250.0
)

// AssemblyAIService streams PCM to AssemblyAI and turns its running
// transcripts into final events by inactivity.
type AssemblyAIService struct {
	apiKey string
	log    *zap.Logger

	Endpoint       string
	ConnectTimeout time.Duration

	silence   time.Duration
	extension time.Duration
	grace     time.Duration

	audioCh chan []byte
	turns   chan string
	events  chan Event
	stopCh  chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	lastVoice time.Time
	looping   bool
	closeOnce sync.Once
}

type assemblyMessage struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	Transcript string  `json:"transcript"`
	Error      string  `json:"error"`
	AudioSecs  float64 `json:"audio_duration_seconds"`
}

func NewAssemblyAIService(apiKey string, log *zap.Logger) *AssemblyAIService {
	return &AssemblyAIService{
		apiKey:         apiKey,
		log:            log,
		Endpoint:       assemblyAIURL,
		ConnectTimeout: 5 * time.Second,
		silence:        silenceThreshold,
		extension:      continuationExtension,
		grace:          stabilizationGrace,
		audioCh:        make(chan []byte, sendBuffer),
		turns:          make(chan string, 64),
		events:         make(chan Event, 64),
		stopCh:         make(chan struct{}),
	}
}

func (s *AssemblyAIService) Events() <-chan Event { return s.events }

func (s *AssemblyAIService) Connect(ctx context.Context) error {
	if s.apiKey == "" {
		return errors.New("assemblyai api key is empty")
	}
	q := url.Values{}
	q.Set("sample_rate", fmt.Sprint(audio.SampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", "false")

	dctx, cancel := context.WithTimeout(ctx, s.ConnectTimeout)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", s.apiKey)
	conn, resp, err := websocket.DefaultDialer.DialContext(dctx, s.Endpoint+"?"+q.Encode(), header)
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: assemblyai after %s", voiceerr.ErrConnectTimeout, s.ConnectTimeout)
		}
		if resp != nil {
			return fmt.Errorf("assemblyai dial status=%d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("assemblyai dial: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.lastVoice = time.Now()
	s.mu.Unlock()
	s.log.Info("recognizer connected", zap.String("provider", "assemblyai"))

	go s.readLoop(conn)
	go s.writeLoop(conn)
	s.startTurnLoop()
	return nil
}

func (s *AssemblyAIService) SendPCM(pcm []int16) error {
	select {
	case <-s.stopCh:
		return nil
	default:
	}
	if rms(pcm) >= voiceRMS {
		s.mu.Lock()
		s.lastVoice = time.Now()
		s.mu.Unlock()
	}
	select {
	case s.audioCh <- audio.Bytes(pcm):
	default:
		s.log.Debug("recognizer send buffer full, dropping frame")
	}
	return nil
}

func (s *AssemblyAIService) sinceVoice(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastVoice)
}

func (s *AssemblyAIService) readLoop(conn *websocket.Conn) {
	defer close(s.turns)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
			default:
				s.log.Warn("recognizer read failed", zap.Error(err))
			}
			return
		}
		var msg assemblyMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Debug("recognizer: undecodable message", zap.Error(err))
			continue
		}
		switch msg.Type {
		case "Begin":
			s.log.Debug("assemblyai session began", zap.String("id", msg.ID))
		case "Turn":
			if msg.Transcript == "" {
				continue
			}
			select {
			case s.turns <- msg.Transcript:
			case <-s.stopCh:
				return
			}
		case "Termination":
			s.log.Debug("assemblyai session terminated", zap.Float64("audio_seconds", msg.AudioSecs))
			return
		case "Error":
			s.log.Warn("assemblyai error", zap.String("error", msg.Error))
		}
	}
}

func (s *AssemblyAIService) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.stopCh:
			return
		case b := <-s.audioCh:
			s.mu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, b)
			s.mu.Unlock()
			if err != nil {
				s.log.Warn("recognizer write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *AssemblyAIService) startTurnLoop() {
	s.mu.Lock()
	s.looping = true
	s.mu.Unlock()
	go s.turnLoop()
}

// turnLoop owns utterance state. It emits every running transcript as an
// interim event and the uncommitted delta as a final event after inactivity.
// It is the only sender on events.
func (s *AssemblyAIService) turnLoop() {
	defer close(s.events)

	var (
		latest, committed string
		lastUpdate        time.Time
		settling          bool
		settleFrom        time.Time
	)
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	emit := func(ev Event) bool {
		select {
		case s.events <- ev:
			return true
		case <-s.stopCh:
			return false
		}
	}
	flush := func() {
		if d := delta(latest, committed); d != "" {
			committed = latest
			select {
			case s.events <- Event{Text: d, IsFinal: true}:
			case <-time.After(200 * time.Millisecond):
				s.log.Warn("recognizer flush: final delta not delivered")
			}
		}
	}

	for {
		select {
		case <-s.stopCh:
			flush()
			return
		case text, ok := <-s.turns:
			if !ok {
				flush()
				return
			}
			latest = text
			lastUpdate = time.Now()
			settling = false
			if !emit(Event{Text: text}) {
				return
			}
			timer.Reset(s.silence)
		case <-timer.C:
			now := time.Now()
			if settling {
				if lastUpdate.After(settleFrom) {
					settling = false
					timer.Reset(s.silence)
					continue
				}
				settling = false
				d := delta(latest, committed)
				committed = latest
				if d != "" && !emit(Event{Text: d, IsFinal: true}) {
					return
				}
				continue
			}
			threshold := s.silence
			if continuationLikely(latest) {
				threshold += s.extension
			}
			wait := max(threshold-now.Sub(lastUpdate), threshold-s.sinceVoice(now))
			if wait > 0 {
				timer.Reset(max(wait, 10*time.Millisecond))
				continue
			}
			settling = true
			settleFrom = lastUpdate
			timer.Reset(s.grace)
		}
	}
}

// Close sends Terminate and closes the socket. Pending text is flushed as a
// final event.
func (s *AssemblyAIService) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
			_ = s.conn.Close()
		}
		looping := s.looping
		s.mu.Unlock()
		if !looping {
			close(s.events)
		}
	})
	return nil
}

// delta returns what latest adds beyond the already committed text.
func delta(latest, committed string) string {
	d := strings.TrimSpace(strings.TrimPrefix(latest, committed))
	if d == "" && committed != "" {
		if idx := strings.LastIndex(latest, committed); idx >= 0 {
			d = strings.TrimSpace(latest[idx+len(committed):])
		}
	}
	return d
}

func rms(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	step := 1
	if len(pcm) > 1600 {
		step = 2
	}
	var sum float64
	n := 0
	for i := 0; i < len(pcm); i += step {
		v := float64(pcm[i])
		sum += v * v
		n++
	}
	return math.Sqrt(sum / float64(n))
}

func continuationLikely(text string) bool {
	_, ok := continuationWords[lastWord(text)]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
