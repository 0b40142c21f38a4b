package llm

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/usage"
)

// OpenAIConfig holds configuration for OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIClient streams chat completions through the OpenAI SDK.
type OpenAIClient struct {
	client openai.Client
	config OpenAIConfig
}

// NewOpenAI creates an OpenAI client. BaseURL selects a compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) *OpenAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		config: cfg,
	}
}

// Provider implements Client.
func (c *OpenAIClient) Provider() string { return "openai" }

// Model implements Client.
func (c *OpenAIClient) Model() string { return c.config.Model }

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) iter.Seq2[types.Chunk, error] {
	return chunks(ctx, c.Provider(), c.deltas(ctx, req))
}

func (c *OpenAIClient) deltas(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(req.Messages) == 0 {
			yield("", ErrEmptyRequest)
			return
		}

		ctx, cancel := withTimeout(ctx, c.config.Timeout)
		defer cancel()

		params := openai.ChatCompletionNewParams{
			Model:    c.config.Model,
			Messages: convertMessages(req),
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
			Temperature: openai.Float(c.config.Temperature),
		}
		if c.config.MaxTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(c.config.MaxTokens))
		}

		logging.APIDebug("[OpenAI] streaming model=%s messages=%d", c.config.Model, len(params.Messages))

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var promptTokens, completionTokens int64
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				promptTokens = chunk.Usage.PromptTokens
				completionTokens = chunk.Usage.CompletionTokens
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("openai stream: %w", err))
			return
		}

		if t := usage.FromContext(ctx); t != nil && (promptTokens > 0 || completionTokens > 0) {
			if err := t.TrackTokens(ctx, c.Provider(), c.config.Model, int(promptTokens), int(completionTokens)); err != nil {
				logging.UsageWarn("failed to record tokens: %v", err)
			}
		}
	}
}

func convertMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		result = append(result, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			result = append(result, openai.AssistantMessage(m.Content))
		default:
			result = append(result, openai.UserMessage(m.Content))
		}
	}
	return result
}
