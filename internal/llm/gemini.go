package llm

import (
	"context"
	"fmt"
	"iter"
	"time"

	"google.golang.org/genai"

	"github.com/shamrockmuffin/open-interpreter-gui/internal/logging"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/types"
	"github.com/shamrockmuffin/open-interpreter-gui/internal/usage"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// GeminiClient streams replies through the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	config GeminiConfig
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Gemini API key is required", ErrNotConfigured)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, config: cfg}, nil
}

// Provider implements Client.
func (c *GeminiClient) Provider() string { return "gemini" }

// Model implements Client.
func (c *GeminiClient) Model() string { return c.config.Model }

// Stream implements Client.
func (c *GeminiClient) Stream(ctx context.Context, req Request) iter.Seq2[types.Chunk, error] {
	return chunks(ctx, c.Provider(), c.deltas(ctx, req))
}

func (c *GeminiClient) deltas(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(req.Messages) == 0 {
			yield("", ErrEmptyRequest)
			return
		}

		ctx, cancel := withTimeout(ctx, c.config.Timeout)
		defer cancel()

		contents := make([]*genai.Content, 0, len(req.Messages))
		for _, m := range req.Messages {
			role := genai.Role(genai.RoleUser)
			if m.Role == RoleAssistant {
				role = genai.RoleModel
			}
			contents = append(contents, genai.NewContentFromText(m.Content, role))
		}

		gc := &genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(c.config.Temperature)),
		}
		if req.System != "" {
			gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}
		if c.config.MaxTokens > 0 {
			gc.MaxOutputTokens = int32(c.config.MaxTokens)
		}

		logging.APIDebug("[Gemini] streaming model=%s messages=%d", c.config.Model, len(contents))

		var promptTokens, outputTokens int32
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.config.Model, contents, gc) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			if resp.UsageMetadata != nil {
				promptTokens = resp.UsageMetadata.PromptTokenCount
				outputTokens = resp.UsageMetadata.CandidatesTokenCount
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					break
				}
			}
		}

		if t := usage.FromContext(ctx); t != nil && (promptTokens > 0 || outputTokens > 0) {
			if err := t.TrackTokens(ctx, c.Provider(), c.config.Model, int(promptTokens), int(outputTokens)); err != nil {
				logging.UsageWarn("failed to record tokens: %v", err)
			}
		}
	}
}
