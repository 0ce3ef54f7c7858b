// Package reasoning adapts hosted language models to the tutor's transcript.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gyaanguru/tutor/internal/config"
	"github.com/gyaanguru/tutor/internal/domain"
)

var (
	// ErrUnavailable is returned when the service cannot be reached or
	// answers with a failure status.
	ErrUnavailable = errors.New("reasoning service unavailable")
	// ErrUnusableReply is returned when the service answers with no usable text.
	ErrUnusableReply = errors.New("reasoning service returned no usable reply")
)

// Completer produces the next tutor reply for a transcript.
type Completer interface {
	// Complete returns the reply text, or an error wrapping ErrUnavailable or
	// ErrUnusableReply. It makes a single attempt.
	Complete(ctx context.Context, systemInstruction string, transcript []domain.Message) (string, error)
}

// Ensure the backends implement Completer.
var (
	_ Completer = (*OpenAIClient)(nil)
	_ Completer = (*GeminiClient)(nil)
	_ Completer = Disabled{}
)

// Options tune a single completion.
type Options struct {
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

const (
	defaultOpenAIModel     = "gpt-3.5-turbo"
	defaultOpenRouterModel = "openai/gpt-3.5-turbo"
	defaultGeminiModel     = "gemini-2.0-flash"

	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// New builds the backend selected by cfg. An empty provider yields Disabled.
func New(ctx context.Context, cfg config.ReasoningConfig, logger *slog.Logger) (Completer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := Options{
		Model:       cfg.Model,
		BaseURL:     cfg.BaseURL,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}

	switch cfg.Provider {
	case "openai":
		opts.APIKey = cfg.OpenAIAPIKey
		opts.Model = orDefault(opts.Model, defaultOpenAIModel)
		opts.BaseURL = orDefault(opts.BaseURL, openAIBaseURL)
		return NewOpenAIClient(opts, logger), nil
	case "openrouter":
		opts.APIKey = cfg.OpenRouterAPIKey
		opts.Model = orDefault(opts.Model, defaultOpenRouterModel)
		opts.BaseURL = orDefault(opts.BaseURL, openRouterBaseURL)
		return NewOpenAIClient(opts, logger), nil
	case "gemini":
		opts.APIKey = cfg.GoogleAPIKey
		opts.Model = orDefault(opts.Model, defaultGeminiModel)
		return NewGeminiClient(ctx, opts, logger)
	case "":
		logger.Warn("no reasoning provider configured, tutor replies will use the fallback message")
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported reasoning provider %q", cfg.Provider)
	}
}

// Disabled is used when no provider is configured.
type Disabled struct{}

// Complete always fails with ErrUnavailable.
func (Disabled) Complete(context.Context, string, []domain.Message) (string, error) {
	return "", fmt.Errorf("%w: no provider configured", ErrUnavailable)
}

// usable trims a completion and rejects blank replies.
func usable(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrUnusableReply
	}
	return text, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
