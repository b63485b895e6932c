package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseChunk(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   DefaultModel,
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": content}, "finish_reason": nil}},
	})
	return "data: " + string(b) + "\n\n"
}

func collect(t *testing.T, ts TokenStream) []string {
	t.Helper()
	var got []string
	for ts.Next() {
		got = append(got, ts.Token())
	}
	return got
}

func TestClient_NoKey(t *testing.T) {
	c := NewClient(Options{})
	_, err := c.Open(context.Background(), "sys", "hi")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestClient_StreamsTokens(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hello", " there.", "", " How can I help?"} {
			fmt.Fprint(w, sseChunk(tok))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "key", BaseURL: srv.URL + "/v1"})
	ts, err := c.Open(context.Background(), "be brief", "hi")
	require.NoError(t, err)
	defer ts.Close()

	assert.Equal(t, []string{"Hello", " there.", " How can I help?"}, collect(t, ts))
	require.NoError(t, ts.Err())

	assert.Equal(t, DefaultModel, body["model"])
	assert.EqualValues(t, DefaultMaxTokens, body["max_tokens"])
	assert.Equal(t, true, body["stream"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestClient_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
			_, _ = w.Write([]byte(`{"error":{"message":"oops"}}`))
		}},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(401); _, _ = w.Write([]byte(`{}`)) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			c := NewClient(Options{APIKey: "key", BaseURL: srv.URL, HTTPClient: &http.Client{Timeout: time.Second}})
			_, err := c.Open(context.Background(), "", "hi")
			assert.Error(t, err)
		})
	}
}

func TestClient_CancelledMidStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("Hi"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Options{APIKey: "key", BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	ts, err := c.Open(ctx, "", "hi")
	require.NoError(t, err)
	defer ts.Close()

	require.True(t, ts.Next())
	assert.Equal(t, "Hi", ts.Token())
	cancel()
	assert.False(t, ts.Next())
	assert.ErrorIs(t, ts.Err(), context.Canceled)
}
