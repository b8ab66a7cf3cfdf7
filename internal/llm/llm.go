package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/pavelanni/pmpcoach/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-3-flash-preview"

const temperature = 0.7

var (
	// ErrNotConfigured is returned by every call when no API key was given.
	ErrNotConfigured = errors.New("LLM API key not configured")
	// ErrUnavailable wraps every failure of the endpoint itself, including
	// an open circuit and a full bulkhead.
	ErrUnavailable = errors.New("LLM unavailable")
)

// Config holds the connection settings.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	MaxConcurrent int           // concurrent non-streaming calls, default 4
	Timeout       time.Duration // per non-streaming call, 0 means none
}

// Client wraps an OpenAI-compatible API client with a circuit breaker on
// every call and a bulkhead on non-streaming completions.
type Client struct {
	api      *openai.Client
	model    string
	timeout  time.Duration
	breaker  circuitbreaker.CircuitBreaker[string]
	bulkhead bulkhead.Bulkhead[string]
}

// New creates a new LLM client.
func New(cfg Config) *Client {
	c := &Client{model: cfg.Model, timeout: cfg.Timeout}
	if c.model == "" {
		c.model = DefaultModel
	}
	if cfg.APIKey != "" {
		config := openai.DefaultConfig(cfg.APIKey)
		config.BaseURL = DefaultBaseURL
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
		c.api = openai.NewClientWithConfig(config)
	}

	c.breaker = circuitbreaker.New[string](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			slog.Warn("LLM circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	c.bulkhead = bulkhead.New[string](bulkhead.Config{
		MaxConcurrent: maxConcurrent,
		MaxQueue:      maxConcurrent * 4,
		QueueTimeout:  30 * time.Second,
	})
	return c
}

// Configured reports whether an API key was given.
func (c *Client) Configured() bool {
	return c.api != nil
}

// Model returns the model name requests are sent with.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a single prompt, with an optional system prompt, and
// returns the reply text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	if c.api == nil {
		return "", ErrNotConfigured
	}
	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	out, err := c.breaker.Execute(ctx, func(ctx context.Context) (string, error) {
		return c.bulkhead.Execute(ctx, func(ctx context.Context) (string, error) {
			if c.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, c.timeout)
				defer cancel()
			}
			resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       c.model,
				Messages:    msgs,
				Temperature: temperature,
			})
			if err != nil {
				return "", fmt.Errorf("LLM API call: %w", err)
			}
			if len(resp.Choices) == 0 {
				return "", errors.New("LLM returned no choices")
			}
			raw := resp.Choices[0].Message.Content
			slog.Debug("LLM response", "bytes", len(raw))
			return raw, nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return out, nil
}

// Stream sends the system prompt and the conversation history and calls
// onChunk with every piece of text as it arrives. It returns the full
// reply. An error from onChunk stops the stream and is returned as is.
func (c *Client) Stream(ctx context.Context, system string, history []model.ChatMessage, onChunk func(string) error) (string, error) {
	if c.api == nil {
		return "", ErrNotConfigured
	}
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: chatRole(m.Role), Content: m.Content})
	}

	// A failing sink means the client went away, not that the LLM is
	// unhealthy, so it must not count against the breaker.
	var sinkErr error
	text, err := c.breaker.Execute(ctx, func(ctx context.Context) (string, error) {
		stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    msgs,
			Temperature: temperature,
			Stream:      true,
		})
		if err != nil {
			return "", fmt.Errorf("LLM stream: %w", err)
		}
		defer stream.Close()

		var sb strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return sb.String(), nil
			}
			if err != nil {
				if ctx.Err() != nil {
					sinkErr = ctx.Err()
					return sb.String(), nil
				}
				return sb.String(), fmt.Errorf("LLM stream recv: %w", err)
			}
			if len(resp.Choices) == 0 {
				continue
			}
			chunk := resp.Choices[0].Delta.Content
			if chunk == "" {
				continue
			}
			sb.WriteString(chunk)
			if onChunk != nil {
				if err := onChunk(chunk); err != nil {
					sinkErr = err
					return sb.String(), nil
				}
			}
		}
	})
	if err != nil {
		return text, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return text, sinkErr
}

// Ping checks that the endpoint answers by listing models.
func (c *Client) Ping(ctx context.Context) error {
	if c.api == nil {
		return ErrNotConfigured
	}
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func chatRole(r model.Role) string {
	switch r {
	case model.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case model.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
