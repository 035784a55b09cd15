package rag

import (
	"context"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/embedding"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

// Retriever embeds a query and looks up its nearest chunks.
type Retriever struct {
	embedder embedding.Embedder
	index    store.VectorIndex
}

func NewRetriever(embedder embedding.Embedder, index store.VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve returns at most topK chunks ascending by cosine distance, dropping
// those farther than maxDistance. An empty index yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, maxDistance *float64) (models.RetrievalResult, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := r.index.NearestNeighbors(ctx, vec, topK, maxDistance)
	if err != nil {
		return nil, err
	}
	matches = store.Rank(matches, topK, maxDistance)

	metrics.RetrievalHits.Observe(float64(len(matches)))
	log.Debug().Int("top_k", topK).Int("hits", len(matches)).Msg("Retrieved chunks")
	return matches, nil
}
