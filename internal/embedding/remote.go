package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"pdf-rag/internal/config"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
)

// RemoteEmbedder asks an embedding server for vectors. The server must
// produce vectors of the pinned dimension.
type RemoteEmbedder struct {
	client    embeddings.Embedder
	profile   models.EmbeddingProfile
	normalize bool
	timeout   time.Duration
}

var _ Embedder = (*RemoteEmbedder)(nil)

func NewRemoteEmbedder(client embeddings.Embedder, profile models.EmbeddingProfile, normalize bool, timeout time.Duration) *RemoteEmbedder {
	return &RemoteEmbedder{client: client, profile: profile, normalize: normalize, timeout: timeout}
}

// NewOllamaEmbedder connects to an Ollama server.
func NewOllamaEmbedder(llmConfig config.LLMConfig, embCfg config.EmbeddingConfig) (*RemoteEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return newRemote(llm, llmConfig, embCfg)
}

// NewOpenAIEmbedder connects to any OpenAI compatible embeddings endpoint.
func NewOpenAIEmbedder(llmConfig config.LLMConfig, embCfg config.EmbeddingConfig) (*RemoteEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating openai embedder")

	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithEmbeddingModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return newRemote(llm, llmConfig, embCfg)
}

func newRemote(client embeddings.EmbedderClient, llmConfig config.LLMConfig, embCfg config.EmbeddingConfig) (*RemoteEmbedder, error) {
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	profile := embCfg.Profile()
	profile.Model = llmConfig.Model
	timeout := time.Duration(llmConfig.TimeoutSecs) * time.Second
	return NewRemoteEmbedder(embedder, profile, embCfg.ShouldNormalize(), timeout), nil
}

func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	vec, err := e.client.EmbedQuery(ctx, text)
	if err != nil {
		metrics.EmbedErrors.WithLabelValues(e.profile.Model).Inc()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrInference, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", models.ErrInference, err)
	}
	if len(vec) != e.profile.Dimension {
		metrics.EmbedErrors.WithLabelValues(e.profile.Model).Inc()
		return nil, fmt.Errorf("%w: server returned %d dimensions, expected %d", models.ErrInference, len(vec), e.profile.Dimension)
	}
	metrics.EmbedDuration.WithLabelValues(e.profile.Model).Observe(time.Since(start).Seconds())

	if e.normalize {
		Normalize(vec)
	}
	return vec, nil
}

func (e *RemoteEmbedder) Dimension() int                   { return e.profile.Dimension }
func (e *RemoteEmbedder) Profile() models.EmbeddingProfile { return e.profile }
func (e *RemoteEmbedder) Semantic() bool                   { return true }
func (e *RemoteEmbedder) Close() error                     { return nil }
