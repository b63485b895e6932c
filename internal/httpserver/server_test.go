package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ansh-stack00/svaraAI/internal/agent"
	"github.com/ansh-stack00/svaraAI/internal/audio"
	"github.com/ansh-stack00/svaraAI/internal/llm"
	"github.com/ansh-stack00/svaraAI/internal/store"
	"github.com/ansh-stack00/svaraAI/internal/transcript"
	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

type fakeStore struct {
	mu     sync.Mutex
	agents map[string]store.Agent
	calls  map[string]store.Call
	lines  []store.Line
}

func (f *fakeStore) Agent(_ context.Context, id string) (store.Agent, error) {
	if a, ok := f.agents[id]; ok {
		return a, nil
	}
	return store.Agent{}, fmt.Errorf("%w: agent %s", voiceerr.ErrNotFound, id)
}

func (f *fakeStore) Call(_ context.Context, id string) (store.Call, error) {
	if c, ok := f.calls[id]; ok {
		return c, nil
	}
	return store.Call{}, fmt.Errorf("%w: call %s", voiceerr.ErrNotFound, id)
}

func (f *fakeStore) AppendTranscript(_ context.Context, line store.Line) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, line)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines)
}

type fakeRecognizer struct {
	events     chan transcript.Event
	connectErr error
	once       sync.Once
	closed     atomic.Bool
}

func (f *fakeRecognizer) Connect(context.Context) error  { return f.connectErr }
func (f *fakeRecognizer) SendPCM([]int16) error          { return nil }
func (f *fakeRecognizer) Events() <-chan transcript.Event { return f.events }
func (f *fakeRecognizer) Close() error {
	f.once.Do(func() {
		f.closed.Store(true)
		close(f.events)
	})
	return nil
}

type fakeSink struct {
	frames atomic.Int32
	closes atomic.Int32
}

func (f *fakeSink) CaptureFrame(context.Context, []int16) error {
	f.frames.Add(1)
	return nil
}
func (f *fakeSink) Reset() {}
func (f *fakeSink) Close() { f.closes.Add(1) }

type fakeTokens struct {
	toks []string
	i    int
	cur  string
}

func (t *fakeTokens) Next() bool {
	if t.i >= len(t.toks) {
		return false
	}
	t.cur = t.toks[t.i]
	t.i++
	return true
}
func (t *fakeTokens) Token() string { return t.cur }
func (t *fakeTokens) Err() error    { return nil }
func (t *fakeTokens) Close() error  { return nil }

type fakeGenerator struct{}

func (fakeGenerator) Open(context.Context, string, string) (llm.TokenStream, error) {
	return &fakeTokens{toks: []string{"Hi ", "there. ", "Bye."}}, nil
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(context.Context, string, string) (audio.Stream, error) {
	pcm := audio.Bytes(make([]int16, audio.FrameSamples*2))
	return audio.Stream{
		ReadCloser: io.NopCloser(bytes.NewReader(pcm)),
		Encoding:   audio.EncodingLinear,
		SampleRate: audio.SampleRate,
	}, nil
}

type harness struct {
	srv   *Server
	ts    *httptest.Server
	store *fakeStore
	sink  *fakeSink
	recs  chan *fakeRecognizer
	joins atomic.Int32
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store: &fakeStore{
			agents: map[string]store.Agent{
				"a1": {ID: "a1", UserID: "u1", SystemPrompt: "be brief", VoiceID: "v1"},
				"a2": {ID: "a2", UserID: "u2"},
			},
			calls: map[string]store.Call{"c1": {ID: "c1", UserID: "u1", AgentID: "a1"}},
		},
		sink: &fakeSink{},
		recs: make(chan *fakeRecognizer, 4),
	}
	deps := Deps{
		Store: h.store,
		NewRecognizer: func() transcript.Recognizer {
			r := &fakeRecognizer{events: make(chan transcript.Event, 4)}
			h.recs <- r
			return r
		},
		JoinRoom: func(context.Context, string, func([]int16)) (agent.FrameSink, error) {
			h.joins.Add(1)
			return h.sink, nil
		},
		Generator:   fakeGenerator{},
		Synthesizer: fakeSynth{},
		Decoder:     audio.NewDecoder("mp3", ""),
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.srv = New(deps, prometheus.NewRegistry())
	h.ts = httptest.NewServer(h.srv.Echo)
	t.Cleanup(h.ts.Close)
	t.Cleanup(h.srv.gateway.Close)
	return h
}

func (h *harness) dial(query string, hdr http.Header) (*websocket.Conn, *http.Response, error) {
	u := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws?" + query
	return websocket.DefaultDialer.Dial(u, hdr)
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

const validQuery = "call_id=c1&agent_id=a1&room_name=room-1"

func TestServer_Healthz(t *testing.T) {
	h := newHarness(t, nil)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.srv.Echo.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "svara_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := New(Deps{}, reg)
	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "svara_test_total 1")
}

func TestTokenOK(t *testing.T) {
	assert.True(t, tokenOK(nil, ""), "empty expected token disables the check")

	r := httptest.NewRequest(http.MethodGet, "/?token=secret", nil)
	assert.True(t, tokenOK(r, "secret"))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Auth-Token", "tok")
	assert.True(t, tokenOK(r, "tok"))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer abc")
	assert.True(t, tokenOK(r, "abc"), "bearer prefix is case-insensitive")

	for _, tc := range []struct {
		name  string
		build func(*http.Request)
	}{
		{"wrong query", func(r *http.Request) { r.URL.RawQuery = "token=wrong" }},
		{"wrong header", func(r *http.Request) { r.Header.Set("X-Auth-Token", "nope") }},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }},
		{"none", func(*http.Request) {}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.build(r)
			assert.False(t, tokenOK(r, "secret"))
		})
	}
}

func TestGateway_Unauthorized(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Token = "secret" })
	_, resp, err := h.dial(validQuery, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer secret")
	conn, _, err := h.dial(validQuery, hdr)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "ready", readMsg(t, conn)["type"])
}

func TestGateway_MissingParams(t *testing.T) {
	h := newHarness(t, nil)
	conn, _, err := h.dial("call_id=c1&agent_id=a1", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, websocket.ClosePolicyViolation, closeCode(t, conn))
	assert.Zero(t, h.joins.Load())
}

func TestGateway_Rejections(t *testing.T) {
	for _, tc := range []struct {
		name, query, want string
	}{
		{"unknown agent", "call_id=c1&agent_id=nope&room_name=r", "not found"},
		{"unknown call", "call_id=nope&agent_id=a1&room_name=r", "not found"},
		{"other agent's call", "call_id=c1&agent_id=a2&room_name=r", "forbidden"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			conn, _, err := h.dial(tc.query, nil)
			require.NoError(t, err)
			defer conn.Close()

			m := readMsg(t, conn)
			assert.Equal(t, "error", m["type"])
			assert.Equal(t, tc.want, m["error"])
			assert.Equal(t, websocket.ClosePolicyViolation, closeCode(t, conn))
			assert.Zero(t, h.joins.Load())
			assert.Empty(t, h.recs)
		})
	}
}

func TestGateway_RecognizerTimeoutIsFatal(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.NewRecognizer = func() transcript.Recognizer {
			return &fakeRecognizer{
				events:     make(chan transcript.Event),
				connectErr: fmt.Errorf("%w: deepgram", voiceerr.ErrConnectTimeout),
			}
		}
	})
	conn, _, err := h.dial(validQuery, nil)
	require.NoError(t, err)
	defer conn.Close()

	m := readMsg(t, conn)
	assert.Equal(t, "error", m["type"])
	assert.Equal(t, "connect timeout", m["error"])
	assert.Equal(t, websocket.CloseInternalServerErr, closeCode(t, conn))
	assert.Zero(t, h.joins.Load(), "room is never joined without a recognizer")
}

func TestGateway_RoomTimeoutClosesRecognizer(t *testing.T) {
	h := newHarness(t, func(d *Deps) {
		d.JoinRoom = func(context.Context, string, func([]int16)) (agent.FrameSink, error) {
			return nil, fmt.Errorf("%w: livekit", voiceerr.ErrConnectTimeout)
		}
	})
	conn, _, err := h.dial(validQuery, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "connect timeout", readMsg(t, conn)["error"])
	rec := <-h.recs
	require.Eventually(t, rec.closed.Load, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_FullCall(t *testing.T) {
	h := newHarness(t, nil)
	conn, _, err := h.dial(validQuery, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"type": "ready"}, readMsg(t, conn))
	assert.Equal(t, 1, h.srv.Sessions())

	rec := <-h.recs
	rec.events <- transcript.Event{Text: "hello", IsFinal: true}

	assert.Equal(t, map[string]any{"type": "transcript", "speaker": "user", "text": "hello"}, readMsg(t, conn))
	assert.Equal(t, map[string]any{"type": "transcript", "speaker": "agent", "text": "Hi there. Bye."}, readMsg(t, conn))
	assert.Equal(t, int32(4), h.sink.frames.Load(), "two sentences of two frames each")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.srv.Sessions() == 0 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), h.sink.closes.Load(), "transport is closed exactly once")
	assert.True(t, rec.closed.Load())
	assert.Equal(t, 2, h.store.count())
}

func TestServer_ShutdownEndsCalls(t *testing.T) {
	h := newHarness(t, nil)
	conn, _, err := h.dial(validQuery, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, "ready", readMsg(t, conn)["type"])

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.srv.Shutdown(ctx) }()

	assert.Equal(t, websocket.CloseNormalClosure, closeCode(t, conn))
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), h.sink.closes.Load())

	_, resp, err := h.dial(validQuery, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_CloseRefusesNewCalls(t *testing.T) {
	g := NewGateway(Deps{})
	require.True(t, g.enter())
	assert.Equal(t, 1, g.Active())

	g.Close()
	assert.False(t, g.enter(), "no call registers once closed")
	assert.Equal(t, 1, g.Active())

	waited := make(chan struct{})
	go func() {
		g.Wait()
		close(waited)
	}()
	g.leave()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the last call left")
	}
	assert.Zero(t, g.Active())
}

func TestGateway_EnterCloseConcurrent(t *testing.T) {
	g := NewGateway(Deps{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.enter() {
				g.leave()
			}
		}()
	}
	g.Close()
	g.Wait()
	wg.Wait()
	assert.Zero(t, g.Active())
}
