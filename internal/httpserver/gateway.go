package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ansh-stack00/svaraAI/internal/agent"
	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/logging"
	"github.com/ansh-stack00/svaraAI/internal/store"
	"github.com/ansh-stack00/svaraAI/internal/telemetry"
	"github.com/ansh-stack00/svaraAI/internal/transcript"
	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

// RoomJoiner joins the named media room and returns its outbound sink.
// onAudio receives the caller's decoded PCM.
type RoomJoiner func(ctx context.Context, room string, onAudio func(pcm []int16)) (agent.FrameSink, error)

// Deps are the collaborators shared by every call.
type Deps struct {
	Store         store.Store
	NewRecognizer func() transcript.Recognizer
	JoinRoom      RoomJoiner
	Generator     agent.Generator
	Synthesizer   agent.Synthesizer
	Decoder       audio.Decoder
	Recorder      *telemetry.Recorder
	Logger        *zap.Logger

	// Token, when set, must accompany every control connection.
	Token        string
	WarmUp       time.Duration
	RelayInterim bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// browser clients connect from the dashboard origin
		return true
	},
}

var (
	errClientClosed = errors.New("client closed connection")
	errSessionEnded = errors.New("session ended")
)

// Gateway accepts one control connection per call and runs its pipeline.
type Gateway struct {
	deps Deps
	log  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup

	mu     sync.Mutex
	active int
}

func NewGateway(deps Deps) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		deps:   deps,
		log:    logging.OrNop(deps.Logger).With(zap.String("component", "gateway")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Active reports the number of live calls.
func (g *Gateway) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Close ends every live call and refuses new ones.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.cancel()
	g.mu.Unlock()
}

// enter registers a call unless the gateway is closed. The check and the
// registration share mu with Close, so Wait never races an Add.
func (g *Gateway) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ctx.Err() != nil {
		return false
	}
	g.calls.Add(1)
	g.active++
	return true
}

func (g *Gateway) leave() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	g.calls.Done()
}

// Wait blocks until every call has torn down.
func (g *Gateway) Wait() { g.calls.Wait() }

type callParams struct {
	callID, agentID, room string
}

// Serve upgrades the request and runs the call until either side ends it.
func (g *Gateway) Serve(c echo.Context) error {
	r := c.Request()
	if !tokenOK(r, g.deps.Token) {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if !g.enter() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "shutting down")
	}
	defer g.leave()

	q := r.URL.Query()
	p := callParams{callID: q.Get("call_id"), agentID: q.Get("agent_id"), room: q.Get("room_name")}

	conn, err := upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		// the upgrader has already replied
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	w := &wsWriter{conn: conn}
	if p.callID == "" || p.agentID == "" || p.room == "" {
		g.log.Warn("missing connection parameters",
			zap.String("call_id", p.callID), zap.String("agent_id", p.agentID), zap.String("room", p.room))
		w.close(websocket.ClosePolicyViolation, "call_id, agent_id and room_name are required")
		return nil
	}

	log := g.log.With(zap.String("call_id", p.callID), zap.String("agent_id", p.agentID), zap.String("room", p.room))
	cfg, err := g.load(p)
	if err != nil {
		log.Warn("call rejected", zap.Error(err))
		w.fail(err)
		w.close(websocket.ClosePolicyViolation, clientError(err))
		return nil
	}
	log.Info("control connection accepted")

	eg, ctx := errgroup.WithContext(g.ctx)
	eg.Go(func() error { return readUntilClosed(conn) })
	eg.Go(func() error {
		<-ctx.Done()
		w.close(websocket.CloseNormalClosure, "")
		// bound the wait for the client's close reply
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		return nil
	})
	eg.Go(func() error { return g.run(ctx, cfg, w, log) })

	switch err := eg.Wait(); {
	case errors.Is(err, errClientClosed), errors.Is(err, errSessionEnded), err == nil:
		log.Info("call ended")
	case voiceerr.Fatal(err):
		log.Error("call torn down", zap.Error(err))
	default:
		log.Error("call failed", zap.Error(err))
	}
	g.deps.Recorder.Flush()
	return nil
}

// load fetches the agent and call records and checks they belong together.
func (g *Gateway) load(p callParams) (agent.Config, error) {
	ctx, cancel := context.WithTimeout(g.ctx, lookupTimeout)
	defer cancel()

	a, err := g.deps.Store.Agent(ctx, p.agentID)
	if err != nil {
		return agent.Config{}, err
	}
	call, err := g.deps.Store.Call(ctx, p.callID)
	if err != nil {
		return agent.Config{}, err
	}
	if err := store.ValidateOwnership(a, call); err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		CallID:       p.callID,
		AgentID:      p.agentID,
		UserID:       call.UserID,
		Room:         p.room,
		SystemPrompt: a.SystemPrompt,
		VoiceID:      a.VoiceID,
		RelayInterim: g.deps.RelayInterim,
	}, nil
}

// run connects the recognizer and the room, warms up, announces ready and
// drives the session until ctx ends or the recognizer stops.
func (g *Gateway) run(ctx context.Context, cfg agent.Config, w *wsWriter, log *zap.Logger) error {
	tags := map[string]any{"call_id": cfg.CallID}

	rec := g.deps.NewRecognizer()
	defer func() {
		if err := rec.Close(); err != nil {
			log.Debug("recognizer close", zap.Error(err))
		}
	}()
	start := time.Now()
	if err := rec.Connect(ctx); err != nil {
		w.abort(err)
		return err
	}
	g.deps.Recorder.Since(telemetry.RecognizerConnect, start, tags)

	start = time.Now()
	sink, err := g.deps.JoinRoom(ctx, cfg.Room, func(pcm []int16) {
		if err := rec.SendPCM(pcm); err != nil {
			log.Debug("recognizer send", zap.Error(err))
		}
	})
	if err != nil {
		w.abort(err)
		return err
	}
	g.deps.Recorder.Since(telemetry.TransportConnect, start, tags)

	sess := agent.NewSession(cfg, agent.Deps{
		Generator:   g.deps.Generator,
		Synthesizer: g.deps.Synthesizer,
		Decoder:     g.deps.Decoder,
		Sink:        sink,
		Store:       g.deps.Store,
		Notify:      w.notify(log),
		Recorder:    g.deps.Recorder,
		Logger:      logging.OrNop(g.deps.Logger).With(zap.String("room", cfg.Room)),
	})

	if g.deps.WarmUp > 0 {
		t := time.NewTimer(g.deps.WarmUp)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			sink.Close()
			return nil
		}
	}
	sess.MarkReady()
	if err := w.send(agent.ReadyMessage); err != nil {
		sink.Close()
		return err
	}
	log.Info("session ready", zap.String("session_id", sess.ID()))

	if err := sess.Run(ctx, rec.Events()); err != nil {
		return err
	}
	return errSessionEnded
}

// readUntilClosed discards client frames; the connection carries no
// client messages beyond its presence.
func readUntilClosed(conn *websocket.Conn) error {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return errClientClosed
		}
	}
}

// clientError is the message shown to the caller for err.
func clientError(err error) string {
	switch {
	case errors.Is(err, voiceerr.ErrNotFound):
		return "not found"
	case errors.Is(err, voiceerr.ErrForbidden):
		return "forbidden"
	case errors.Is(err, voiceerr.ErrConnectTimeout):
		return "connect timeout"
	default:
		return "internal error"
	}
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// wsWriter serializes data frames. Control frames are safe concurrently.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsWriter) notify(log *zap.Logger) func(agent.Message) {
	return func(m agent.Message) {
		if err := w.send(m); err != nil {
			log.Debug("control write failed", zap.String("type", m.Type), zap.Error(err))
		}
	}
}

func (w *wsWriter) fail(err error) {
	_ = w.send(errorMessage{Type: "error", Error: clientError(err)})
}

// abort reports a fatal pipeline error and closes the connection.
func (w *wsWriter) abort(err error) {
	w.fail(err)
	w.close(websocket.CloseInternalServerErr, clientError(err))
}

func (w *wsWriter) close(code int, reason string) {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}
