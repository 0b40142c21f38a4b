// Package llm streams model replies as interpreter chunks.
//
// Providers only produce raw text deltas. The FenceParser splits those deltas
// into assistant/message and assistant/code chunks, so every provider speaks
// the same chunk schema the aggregator consumes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/config"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
)

// Role of a rendered message as the model sees it.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the model's view of the conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is a single model call.
type Request struct {
	System   string
	Messages []Message
}

// Client streams one model reply.
type Client interface {
	// Stream yields chunks in arrival order. A non-nil error ends the
	// sequence; the chunk paired with it is zero.
	Stream(ctx context.Context, req Request) iter.Seq2[types.Chunk, error]

	Provider() string
	Model() string
}

// Errors returned by New and the provider clients.
var (
	ErrNotConfigured   = errors.New("model client not configured")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptyRequest    = errors.New("request has no messages")
)

// New builds the client selected by cfg.LLM.Provider.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	if cfg.LLM.APIKey == "" {
		if cfg.Interpreter.Offline {
			return nil, fmt.Errorf("%w: offline mode and no API key", ErrNotConfigured)
		}
		return nil, fmt.Errorf("%w: no API key for provider %q", ErrNotConfigured, cfg.LLM.Provider)
	}

	timeout := cfg.GetLLMTimeout()
	logging.API("creating %s client model=%s timeout=%s", cfg.LLM.Provider, cfg.LLM.Model, timeout)

	switch cfg.LLM.Provider {
	case "gemini":
		return NewGemini(ctx, GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     timeout,
		})
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     timeout,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.LLM.Provider)
	}
}

// chunks adapts a provider's raw delta stream into chunks. Cancellation is
// checked once per delta.
func chunks(ctx context.Context, provider string, deltas iter.Seq2[string, error]) iter.Seq2[types.Chunk, error] {
	return func(yield func(types.Chunk, error) bool) {
		timer := logging.StartTimer(logging.CategoryAPI, provider+" stream")
		defer timer.Stop()

		var p FenceParser
		for delta, err := range deltas {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				logging.APIError("%s stream failed: %v", provider, err)
				yield(types.Chunk{}, err)
				return
			}
			for _, c := range p.Feed(delta) {
				if !yield(c, nil) {
					return
				}
			}
		}
		for _, c := range p.Flush() {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// withTimeout derives a per-call context when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
