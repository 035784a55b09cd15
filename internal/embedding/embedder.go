package embedding

import (
	"context"
	"fmt"
	"time"

	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
)

// Embedder turns text into a vector of fixed dimension. Exactly one
// implementation is selected when the process starts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Profile() models.EmbeddingProfile
	// Semantic is false for placeholder vectors that carry no meaning.
	Semantic() bool
	Close() error
}

// Session runs the token sequence through the model and returns one vector per token.
type Session interface {
	Run(ctx context.Context, enc Encoding) ([][]float32, error)
	Close() error
}

// ModelEmbedder tokenizes, runs a local model and pools the token vectors.
type ModelEmbedder struct {
	tokenizer *Tokenizer
	session   Session
	profile   models.EmbeddingProfile
	normalize bool
	timeout   time.Duration
}

var _ Embedder = (*ModelEmbedder)(nil)

func NewModelEmbedder(tokenizer *Tokenizer, session Session, profile models.EmbeddingProfile, normalize bool, timeout time.Duration) *ModelEmbedder {
	return &ModelEmbedder{
		tokenizer: tokenizer,
		session:   session,
		profile:   profile,
		normalize: normalize,
		timeout:   timeout,
	}
}

func (e *ModelEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e == nil || e.tokenizer == nil || e.session == nil {
		return nil, models.ErrModelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	vec, err := e.embed(ctx, text)
	if err != nil {
		metrics.EmbedErrors.WithLabelValues(e.profile.Model).Inc()
		return nil, err
	}
	metrics.EmbedDuration.WithLabelValues(e.profile.Model).Observe(time.Since(start).Seconds())
	return vec, nil
}

func (e *ModelEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	enc := e.tokenizer.Encode(text)

	tokens, err := e.run(ctx, enc)
	if err != nil {
		return nil, err
	}
	if len(tokens) != len(enc.IDs) {
		return nil, fmt.Errorf("%w: model returned %d token vectors for %d tokens", models.ErrInference, len(tokens), len(enc.IDs))
	}

	vec, err := Pool(e.profile.Pooling, tokens, enc.AttentionMask)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInference, err)
	}
	if len(vec) != e.profile.Dimension {
		return nil, fmt.Errorf("%w: model produced %d dimensions, expected %d", models.ErrInference, len(vec), e.profile.Dimension)
	}
	if e.normalize {
		Normalize(vec)
	}
	return vec, nil
}

// run bounds the session call by the embedder timeout. The session keeps
// running in the background if the deadline passes first; its result is dropped.
func (e *ModelEmbedder) run(ctx context.Context, enc Encoding) ([][]float32, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		tokens [][]float32
		err    error
	}
	done := make(chan result, 1)
	go func() {
		tokens, err := e.session.Run(ctx, enc)
		done <- result{tokens: tokens, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", models.ErrInference, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInference, r.err)
		}
		return r.tokens, nil
	}
}

func (e *ModelEmbedder) Dimension() int                   { return e.profile.Dimension }
func (e *ModelEmbedder) Profile() models.EmbeddingProfile { return e.profile }
func (e *ModelEmbedder) Semantic() bool                   { return true }

func (e *ModelEmbedder) Close() error {
	if e.session == nil {
		return nil
	}
	return e.session.Close()
}

// Unavailable stands in for an embedder whose model failed to load.
// Every call fails with ErrModelUnavailable.
type Unavailable struct {
	Cause   error
	profile models.EmbeddingProfile
}

func NewUnavailable(cause error, profile models.EmbeddingProfile) *Unavailable {
	return &Unavailable{Cause: cause, profile: profile}
}

func (u *Unavailable) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: %v", models.ErrModelUnavailable, u.Cause)
}

func (u *Unavailable) Dimension() int                   { return u.profile.Dimension }
func (u *Unavailable) Profile() models.EmbeddingProfile { return u.profile }
func (u *Unavailable) Semantic() bool                   { return true }
func (u *Unavailable) Close() error                     { return nil }
