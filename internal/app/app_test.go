package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-rag/internal/config"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

func offlineConfig(backend string) *config.Config {
	cfg := config.Default()
	cfg.VectorStore.Backend = backend
	cfg.VectorStore.InMemory = true
	cfg.Embedding.Provider = config.ProviderNonSemantic
	cfg.InferenceLLM.Provider = config.ProviderOffline
	return cfg
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "pdf_chunks_nonsemantic", Namespace("pdf_chunks", embedding.NewNonSemantic(4)))

	unavailable := embedding.NewUnavailable(assert.AnError, models.DefaultProfile)
	assert.Equal(t, "pdf_chunks", Namespace("pdf_chunks", unavailable))
}

func TestNewWithMemoryBackend(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, offlineConfig(config.BackendMemory))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.IsType(t, &store.Memory{}, a.Store)
	assert.Equal(t, "pdf_chunks_nonsemantic", a.Namespace)
	assert.True(t, a.RAG.Health(ctx).OK())

	resp, err := a.RAG.Query(ctx, "anything", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RefusalPhrase, resp.Content)

	_, err = a.Export(ctx, "")
	assert.Error(t, err)
}

func TestNewWithChromemBackend(t *testing.T) {
	ctx := context.Background()
	cfg := offlineConfig(config.BackendChromem)
	cfg.VectorStore.Path = t.TempDir()
	a, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	require.NotNil(t, a.chromem)
	docs, err := a.RAG.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NoError(t, a.RAG.Clear(ctx))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := offlineConfig(config.BackendMemory)
	cfg.Embedding.Provider = "word2vec"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
