package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

// DeepgramService streams PCM to Deepgram live transcription.
type DeepgramService struct {
	apiKey string
	model  string
	log    *zap.Logger

	// Endpoint, ConnectTimeout and Interim may be changed before Connect.
	Endpoint       string
	ConnectTimeout time.Duration
	Interim        bool

	audioCh chan []byte
	events  chan Event
	stopCh  chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	closeOnce sync.Once
}

type deepgramResult struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func NewDeepgramService(apiKey, model string, log *zap.Logger) *DeepgramService {
	if model == "" {
		model = "nova-2"
	}
	return &DeepgramService{
		apiKey:         apiKey,
		model:          model,
		log:            log,
		Endpoint:       deepgramListenURL,
		ConnectTimeout: 5 * time.Second,
		audioCh:        make(chan []byte, sendBuffer),
		events:         make(chan Event, 64),
		stopCh:         make(chan struct{}),
	}
}

func (d *DeepgramService) Events() <-chan Event { return d.events }

func (d *DeepgramService) listenURL() string {
	q := url.Values{}
	q.Set("model", d.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprint(audio.SampleRate))
	q.Set("channels", fmt.Sprint(audio.Channels))
	q.Set("interim_results", fmt.Sprint(d.Interim))
	q.Set("punctuate", "true")
	return d.Endpoint + "?" + q.Encode()
}

// Connect dials within ConnectTimeout. A dial that does not complete in time
// fails with voiceerr.ErrConnectTimeout.
func (d *DeepgramService) Connect(ctx context.Context) error {
	if d.apiKey == "" {
		return errors.New("deepgram api key is empty")
	}
	dctx, cancel := context.WithTimeout(ctx, d.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)
	conn, resp, err := websocket.DefaultDialer.DialContext(dctx, d.listenURL(), header)
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: deepgram after %s", voiceerr.ErrConnectTimeout, d.ConnectTimeout)
		}
		if resp != nil {
			return fmt.Errorf("deepgram dial status=%d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("deepgram dial: %w", err)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	d.log.Info("recognizer connected", zap.String("provider", "deepgram"), zap.String("model", d.model))

	go d.readLoop(conn)
	go d.writeLoop(conn)
	return nil
}

// SendPCM queues audio. Audio sent before Connect is held in the send buffer;
// when the buffer is full the frame is dropped.
func (d *DeepgramService) SendPCM(pcm []int16) error {
	select {
	case <-d.stopCh:
		return nil
	default:
	}
	select {
	case d.audioCh <- audio.Bytes(pcm):
	default:
		d.log.Debug("recognizer send buffer full, dropping frame")
	}
	return nil
}

func (d *DeepgramService) readLoop(conn *websocket.Conn) {
	defer close(d.events)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-d.stopCh:
			default:
				d.log.Warn("recognizer read failed", zap.Error(err))
			}
			return
		}
		var res deepgramResult
		if err := json.Unmarshal(msg, &res); err != nil {
			d.log.Debug("recognizer: undecodable message", zap.Error(err))
			continue
		}
		if res.Type != "" && res.Type != "Results" {
			continue
		}
		if len(res.Channel.Alternatives) == 0 {
			continue
		}
		text := strings.TrimSpace(res.Channel.Alternatives[0].Transcript)
		if text == "" {
			continue
		}
		select {
		case d.events <- Event{Text: text, IsFinal: res.IsFinal}:
		case <-d.stopCh:
			return
		}
	}
}

func (d *DeepgramService) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-d.stopCh:
			return
		case b := <-d.audioCh:
			d.mu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, b)
			d.mu.Unlock()
			if err != nil {
				d.log.Warn("recognizer write failed", zap.Error(err))
				return
			}
		}
	}
}

// Close asks Deepgram to finish the stream and closes the socket.
func (d *DeepgramService) Close() error {
	d.closeOnce.Do(func() {
		close(d.stopCh)
		d.mu.Lock()
		conn := d.conn
		if conn != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
			_ = conn.Close()
		}
		d.mu.Unlock()
		if conn == nil {
			close(d.events)
		}
	})
	return nil
}
