// Package llm streams chat completions from an OpenAI-compatible endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

const (
	DefaultBaseURL   = "https://api.groq.com/openai/v1"
	DefaultModel     = "llama-3.1-8b-instant"
	DefaultMaxTokens = 150
)

// ErrMissingKey is returned before any request when no API key is configured.
var ErrMissingKey = errors.New("llm api key missing")

// Client wraps the openai-go SDK for single-turn streaming generation.
type Client struct {
	sdk       openai.Client
	model     string
	maxTokens int
	hasKey    bool
}

// Options configures a Client. Zero values select the Groq defaults.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

func NewClient(o Options) *Client {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	opts := []option.RequestOption{
		option.WithAPIKey(o.APIKey),
		option.WithBaseURL(strings.TrimRight(o.BaseURL, "/") + "/"),
		option.WithMaxRetries(0),
	}
	if o.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(o.HTTPClient))
	}
	return &Client{
		sdk:       openai.NewClient(opts...),
		model:     o.Model,
		maxTokens: o.MaxTokens,
		hasKey:    o.APIKey != "",
	}
}

// TokenStream yields generated text deltas in order.
type TokenStream interface {
	Next() bool
	Token() string
	Err() error
	Close() error
}

// Open sends the system prompt and user text and returns once the response
// stream is established. Non-2xx responses fail here rather than on Next.
func (c *Client) Open(ctx context.Context, systemPrompt, userText string) (TokenStream, error) {
	if !c.hasKey {
		return nil, ErrMissingKey
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(userText))

	stream := c.sdk.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  msgs,
		MaxTokens: openai.Int(int64(c.maxTokens)),
	})
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("llm open: %w", err)
	}
	return &chunkStream{ctx: ctx, s: stream}, nil
}

type chunkStream struct {
	ctx context.Context
	s   *ssestream.Stream[openai.ChatCompletionChunk]
	tok string
}

// Next skips chunks without content (role headers, finish markers).
func (c *chunkStream) Next() bool {
	for c.s.Next() {
		chunk := c.s.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if tok := chunk.Choices[0].Delta.Content; tok != "" {
			c.tok = tok
			return true
		}
	}
	return false
}

func (c *chunkStream) Token() string { return c.tok }

func (c *chunkStream) Err() error {
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if err := c.s.Err(); err != nil {
		return fmt.Errorf("llm stream: %w", err)
	}
	return nil
}

func (c *chunkStream) Close() error { return c.s.Close() }
