package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/models"
)

// Generator produces an answer from a prompt message sequence.
type Generator interface {
	Chat(ctx context.Context, messages []llms.MessageContent) (string, error)
	// ChatStream calls onFragment for every piece of output in order. An error
	// from onFragment stops the stream and is returned.
	ChatStream(ctx context.Context, messages []llms.MessageContent, onFragment func(string) error) error
}

// Client calls a chat model through langchaingo.
type Client struct {
	model       llms.Model
	name        string
	temperature float64
	timeout     time.Duration
}

var _ Generator = (*Client)(nil)

// New builds a Generator for the configured provider.
func New(llmConfig config.LLMConfig) (Generator, error) {
	log.Debug().
		Str("provider", llmConfig.Provider).
		Str("base_url", llmConfig.BaseURL).
		Str("model", llmConfig.Model).
		Msg("Creating chat client")

	var (
		model llms.Model
		err   error
	)
	switch llmConfig.Provider {
	case config.ProviderOffline:
		return Offline{}, nil
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	case config.ProviderOpenAI:
		model, err = openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		)
	default:
		return nil, fmt.Errorf("unknown chat provider %q", llmConfig.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", llmConfig.Provider, err)
	}
	return NewClient(model, llmConfig.Model, llmConfig.Temperature, time.Duration(llmConfig.TimeoutSecs)*time.Second), nil
}

func NewClient(model llms.Model, name string, temperature float64, timeout time.Duration) *Client {
	return &Client{model: model, name: name, temperature: temperature, timeout: timeout}
}

func (c *Client) Chat(ctx context.Context, messages []llms.MessageContent) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.model.GenerateContent(ctx, messages, c.options()...)
	if err != nil {
		return "", c.wrap(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model %s returned no choices", models.ErrGeneration, c.name)
	}
	return resp.Choices[0].Content, nil
}

func (c *Client) ChatStream(ctx context.Context, messages []llms.MessageContent, onFragment func(string) error) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var fragmentErr error
	opts := append(c.options(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onFragment(string(chunk)); err != nil {
			fragmentErr = err
			return err
		}
		return nil
	}))

	_, err := c.model.GenerateContent(ctx, messages, opts...)
	if fragmentErr != nil {
		return fragmentErr
	}
	if err != nil {
		return c.wrap(ctx, err)
	}
	return nil
}

func (c *Client) options() []llms.CallOption {
	if c.temperature == 0 {
		return nil
	}
	return []llms.CallOption{llms.WithTemperature(c.temperature)}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", models.ErrGeneration, ctxErr)
	}
	return fmt.Errorf("%w: %w", models.ErrGeneration, err)
}
