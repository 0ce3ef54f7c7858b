package reasoning

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/gyaanguru/tutor/internal/domain"
)

// GeminiClient uses the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	opts   Options
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini API client.
func NewGeminiClient(ctx context.Context, opts Options, logger *slog.Logger) (*GeminiClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required for the gemini provider")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, opts: opts, logger: logger}, nil
}

// Complete generates the next reply for the transcript.
func (c *GeminiClient) Complete(ctx context.Context, systemInstruction string, transcript []domain.Message) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(ctx, c.opts.Model, toGeminiContents(transcript), c.generateConfig(systemInstruction))
	if err != nil {
		return "", fmt.Errorf("%w: GenAI generate failed: %w", ErrUnavailable, err)
	}
	if resp == nil {
		return "", ErrUnusableReply
	}
	return usable(resp.Text())
}

func (c *GeminiClient) generateConfig(systemInstruction string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(float32(c.opts.Temperature)),
	}
	if c.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.opts.MaxTokens)
	}
	return cfg
}

func toGeminiContents(transcript []domain.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(transcript))
	for _, m := range transcript {
		role := genai.Role(genai.RoleModel)
		if m.Speaker == domain.SpeakerLearner {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(m.Body, role))
	}
	return contents
}
