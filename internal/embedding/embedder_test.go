package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/models"
)

type fakeSession struct {
	dim    int
	err    error
	block  chan struct{}
	calls  int
	closed bool
}

func (s *fakeSession) Run(_ context.Context, enc Encoding) ([][]float32, error) {
	s.calls++
	if s.block != nil {
		<-s.block
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(enc.IDs))
	for i, id := range enc.IDs {
		vec := make([]float32, s.dim)
		for j := range vec {
			vec[j] = float32(id) + float32(j)
		}
		out[i] = vec
	}
	return out, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

func testProfile(dim int) models.EmbeddingProfile {
	p := models.DefaultProfile
	p.Dimension = dim
	return p
}

func vecNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestModelEmbedderDeterministic(t *testing.T) {
	e := NewModelEmbedder(newTestTokenizer(t, 16), &fakeSession{dim: 4}, testProfile(4), true, time.Second)

	a, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)

	assert.Len(t, a, 4)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, vecNorm(a), 1e-5)
	assert.True(t, e.Semantic())
	assert.Equal(t, 4, e.Dimension())
}

func TestModelEmbedderDimensionMismatch(t *testing.T) {
	e := NewModelEmbedder(newTestTokenizer(t, 16), &fakeSession{dim: 3}, testProfile(4), true, time.Second)

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, models.ErrInference)
}

func TestModelEmbedderSessionError(t *testing.T) {
	e := NewModelEmbedder(newTestTokenizer(t, 16), &fakeSession{dim: 4, err: errors.New("boom")}, testProfile(4), true, time.Second)

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, models.ErrInference)
}

func TestModelEmbedderTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	e := NewModelEmbedder(newTestTokenizer(t, 16), &fakeSession{dim: 4, block: release}, testProfile(4), true, 20*time.Millisecond)

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, models.ErrInference)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestModelEmbedderCancelledContext(t *testing.T) {
	session := &fakeSession{dim: 4}
	e := NewModelEmbedder(newTestTokenizer(t, 16), session, testProfile(4), true, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Embed(ctx, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, session.calls)
}

func TestModelEmbedderClose(t *testing.T) {
	session := &fakeSession{dim: 4}
	e := NewModelEmbedder(newTestTokenizer(t, 16), session, testProfile(4), true, time.Second)
	require.NoError(t, e.Close())
	assert.True(t, session.closed)
}

func TestUnavailable(t *testing.T) {
	u := NewUnavailable(errors.New("model.onnx: no such file"), testProfile(384))

	_, err := u.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, models.ErrModelUnavailable)
	assert.Equal(t, 384, u.Dimension())
}

func TestNonSemantic(t *testing.T) {
	n := NewNonSemantic(384)
	ctx := context.Background()

	a, err := n.Embed(ctx, "hello")
	require.NoError(t, err)
	b, err := n.Embed(ctx, "hello")
	require.NoError(t, err)
	c, err := n.Embed(ctx, "goodbye")
	require.NoError(t, err)

	assert.Len(t, a, 384)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.InDelta(t, 1.0, vecNorm(a), 1e-5)
	assert.False(t, n.Semantic())
}
