package summarizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rakha/ingat/pkg/store"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds a single summarization call.
	DefaultTimeout = 120 * time.Second

	// DefaultConcurrency is the number of in-flight summarizations allowed
	// across all sessions. The collaborator is a shared, possibly
	// rate-limited resource, so the default is deliberately small.
	DefaultConcurrency = 1

	// maxMessageChars truncates very long messages in the prompt context.
	maxMessageChars = 1000
)

// Summarizer generates summaries through an OpenAI-compatible chat
// completions endpoint (Ollama exposes one under /v1).
type Summarizer struct {
	client  openai.Client
	model   string
	timeout time.Duration
	sem     chan struct{}
	logger  zerolog.Logger
}

// Config holds summarizer configuration.
type Config struct {
	// Endpoint is the collaborator's base URL, e.g. http://localhost:11434.
	Endpoint string
	Model    string
	Timeout  time.Duration
	// Concurrency bounds in-flight calls; defaults to DefaultConcurrency.
	Concurrency int
	Logger      zerolog.Logger
}

// New creates a summarizer adapter.
func New(cfg Config) (*Summarizer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("summarizer endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("summarizer model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	client := openai.NewClient(
		option.WithBaseURL(strings.TrimSuffix(cfg.Endpoint, "/") + "/v1"),
		option.WithAPIKey("ollama"), // endpoint ignores the key but the client requires one
		option.WithMaxRetries(0),    // retry policy belongs to the caller
	)

	return &Summarizer{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		sem:     make(chan struct{}, cfg.Concurrency),
		logger:  cfg.Logger,
	}, nil
}

// Summarize condenses messages to approximately targetTokens. It blocks
// while the concurrency limiter is saturated, then makes a single bounded
// call; errors and timeouts are returned to the caller undecorated by any
// fallback.
func (s *Summarizer) Summarize(ctx context.Context, messages []store.Message, targetTokens int) (string, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Debug().
		Int("messages", len(messages)).
		Int("target_tokens", targetTokens).
		Msg("Requesting summary")

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(buildPrompt(messages, targetTokens)),
		},
		Temperature: openai.Float(0.3),
		MaxTokens:   openai.Int(int64(targetTokens * 2)),
	})
	if err != nil {
		return "", fmt.Errorf("summarization call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarization returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("summarization returned empty content")
	}

	s.logger.Info().
		Int("messages", len(messages)).
		Dur("elapsed", time.Since(start)).
		Msg("Summary generated")

	return summary, nil
}

// buildPrompt renders the conversation and the summarization instructions.
func buildPrompt(messages []store.Message, targetTokens int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `You are a conversation summarizer. Create a concise summary of the following conversation context.

Requirements:
1. The summary should be approximately %d tokens (%d characters).
2. Preserve key information that might be referenced later: decisions made, files created or discussed, bug fixes, configuration changes.
3. Be factual and precise; include specific details like file paths, function names, and error messages.
4. Omit pleasantries and redundant confirmations.

Conversation:

`, targetTokens, targetTokens*4)

	for i, msg := range messages {
		content := msg.Content
		if len(content) > maxMessageChars {
			content = content[:maxMessageChars] + "... [truncated]"
		}
		fmt.Fprintf(&sb, "### Message %d (%s)\n%s\n\n", i+1, msg.Role, content)
	}

	fmt.Fprintf(&sb, "Summary (approximately %d tokens):", targetTokens)
	return sb.String()
}
