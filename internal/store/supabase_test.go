package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ansh-stack00/svaraAI/internal/voiceerr"
)

func fakePostgrest(t *testing.T, inserted chan<- Line) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/agents", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("id") == "eq.agent-1" {
			_, _ = w.Write([]byte(`[{"id":"agent-1","user_id":"user-1","system_prompt":"Be brief.","voice_id":"voice-9"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/rest/v1/calls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("id") == "eq.call-1" {
			_, _ = w.Write([]byte(`[{"id":"call-1","user_id":"user-1","agent_id":"agent-1"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/rest/v1/transcripts", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var l Line
		if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"bad body"}`))
			return
		}
		if l.Text == "reject" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"code":"23505","message":"duplicate key"}`))
			return
		}
		inserted <- l
		w.WriteHeader(http.StatusCreated)
	})
	return httptest.NewServer(mux)
}

func TestSupabase_Lookups(t *testing.T) {
	srv := fakePostgrest(t, nil)
	defer srv.Close()
	s, err := NewSupabase(srv.URL, "service-key")
	require.NoError(t, err)
	ctx := context.Background()

	a, err := s.Agent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, Agent{ID: "agent-1", UserID: "user-1", SystemPrompt: "Be brief.", VoiceID: "voice-9"}, a)

	c, err := s.Call(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, Call{ID: "call-1", UserID: "user-1", AgentID: "agent-1"}, c)

	_, err = s.Agent(ctx, "missing")
	assert.ErrorIs(t, err, voiceerr.ErrNotFound)
	_, err = s.Call(ctx, "")
	assert.ErrorIs(t, err, voiceerr.ErrNotFound)
}

func TestSupabase_AppendTranscript(t *testing.T) {
	inserted := make(chan Line, 1)
	srv := fakePostgrest(t, inserted)
	defer srv.Close()
	s, err := NewSupabase(srv.URL, "service-key")
	require.NoError(t, err)

	line := Line{CallID: "call-1", UserID: "user-1", Speaker: SpeakerUser, Text: "hello", IsFinal: true, SequenceNumber: 3}
	require.NoError(t, s.AppendTranscript(context.Background(), line))
	assert.Equal(t, line, <-inserted)

	err = s.AppendTranscript(context.Background(), Line{Text: "reject"})
	assert.ErrorIs(t, err, voiceerr.ErrPersistenceFailed)
}

func TestSupabase_CancelledContext(t *testing.T) {
	s, err := NewSupabase("http://127.0.0.1:1", "k")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Agent(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.AppendTranscript(ctx, Line{}), context.Canceled)
}

func TestNewSupabase_RequiresConfig(t *testing.T) {
	_, err := NewSupabase("", "k")
	assert.Error(t, err)
}

func TestValidateOwnership(t *testing.T) {
	agent := Agent{ID: "a1", UserID: "u1"}
	assert.NoError(t, ValidateOwnership(agent, Call{ID: "c", AgentID: "a1", UserID: "u1"}))
	assert.ErrorIs(t, ValidateOwnership(agent, Call{ID: "c", AgentID: "a2", UserID: "u1"}), voiceerr.ErrForbidden)
	assert.ErrorIs(t, ValidateOwnership(agent, Call{ID: "c", AgentID: "a1", UserID: "u2"}), voiceerr.ErrForbidden)
	assert.NoError(t, ValidateOwnership(Agent{ID: "a1"}, Call{ID: "c", AgentID: "a1", UserID: "anyone"}))
}
