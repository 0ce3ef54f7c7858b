package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gyaanguru/tutor/internal/domain"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
// It is used for both OpenAI and OpenRouter.
type OpenAIClient struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a client for the given options.
func NewOpenAIClient(opts Options, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts.BaseURL = strings.TrimRight(orDefault(opts.BaseURL, openAIBaseURL), "/")
	return &OpenAIClient{
		opts:       opts,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Complete sends the system instruction and transcript in one request.
func (c *OpenAIClient) Complete(ctx context.Context, systemInstruction string, transcript []domain.Message) (string, error) {
	ctx, cancel := withTimeout(ctx, c.opts.Timeout)
	defer cancel()
	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    toChatMessages(systemInstruction, transcript),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return "", fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %w", ErrUnusableReply, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", ErrUnusableReply
	}

	text, err := usable(out.Choices[0].Message.Content)
	if err != nil {
		return "", err
	}
	c.logger.Debug("completion finished", "model", c.opts.Model, "duration", time.Since(start), "reply_len", len(text))
	return text, nil
}

func toChatMessages(systemInstruction string, transcript []domain.Message) []chatMessage {
	msgs := make([]chatMessage, 0, len(transcript)+1)
	msgs = append(msgs, chatMessage{Role: "system", Content: systemInstruction})
	for _, m := range transcript {
		role := "assistant"
		if m.Speaker == domain.SpeakerLearner {
			role = "user"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Body})
	}
	return msgs
}
