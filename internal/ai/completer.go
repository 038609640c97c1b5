package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	antoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	oaoption "github.com/openai/openai-go/v3/option"
	"github.com/sony/gobreaker"
)

const (
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	GroqBaseURL      = "https://api.groq.com/openai/v1"
	DefaultGroqModel = "llama-3.1-8b-instant"

	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"

	maxTokens   = 500
	temperature = 0.7
	callTimeout = 30 * time.Second
)

var ErrEmptyCompletion = errors.New("model returned no text")

// Completer sends a single user prompt and returns the model's text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
}

// NewCompleter builds the configured backend behind a circuit breaker. It
// returns nil when no API key is set.
func NewCompleter(cfg Config, log *slog.Logger) (Completer, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	var c Completer
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGroq:
		c = newOpenAI(cfg.APIKey, or(cfg.BaseURL, GroqBaseURL), or(cfg.Model, DefaultGroqModel))
	case ProviderOpenAI:
		c = newOpenAI(cfg.APIKey, cfg.BaseURL, or(cfg.Model, defaultOpenAIModel))
	case ProviderAnthropic:
		c = newAnthropic(cfg.APIKey, cfg.BaseURL, or(cfg.Model, defaultAnthropicModel))
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
	return WithBreaker(c, cfg.Provider, log), nil
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// openAICompleter talks to any OpenAI-compatible chat completions API,
// Groq included.
type openAICompleter struct {
	client openai.Client
	model  string
}

func newOpenAI(key, baseURL, model string) *openAICompleter {
	opts := []oaoption.RequestOption{oaoption.WithAPIKey(key)}
	if baseURL != "" {
		opts = append(opts, oaoption.WithBaseURL(baseURL))
	}
	return &openAICompleter{client: openai.NewClient(opts...), model: model}
}

func (c *openAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

type anthropicCompleter struct {
	client anthropic.Client
	model  string
}

func newAnthropic(key, baseURL, model string) *anthropicCompleter {
	opts := []antoption.RequestOption{antoption.WithAPIKey(key)}
	if baseURL != "" {
		opts = append(opts, antoption.WithBaseURL(baseURL))
	}
	return &anthropicCompleter{client: anthropic.NewClient(opts...), model: model}
}

func (c *anthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return sb.String(), nil
}

// breakerCompleter stops calling a failing provider for a while instead of
// waiting out a timeout on every request.
type breakerCompleter struct {
	next Completer
	cb   *gobreaker.CircuitBreaker
}

func WithBreaker(next Completer, name string, log *slog.Logger) Completer {
	if log == nil {
		log = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-" + or(name, ProviderGroq),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("ai circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &breakerCompleter{next: next, cb: cb}
}

func (b *breakerCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return b.next.Complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
