// Package store defines the vector index and document registry contracts
// shared by the Postgres, chromem and in-memory backends.
package store

import (
	"context"
	"fmt"
	"math"
	"sort"

	"pdf-rag/internal/models"
)

// VectorIndex stores chunk vectors and answers nearest-neighbour queries
// by cosine distance. Results are ascending by distance with ties in
// insertion order. A nil maxDistance disables the threshold.
type VectorIndex interface {
	Insert(ctx context.Context, chunks ...models.IndexedChunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
	NearestNeighbors(ctx context.Context, vector []float32, topK int, maxDistance *float64) (models.RetrievalResult, error)
	Clear(ctx context.Context) error
}

// Registry looks up uploaded documents. Lookups return nil, nil when nothing matches.
type Registry interface {
	FindByHash(ctx context.Context, contentHash string) (*models.UploadedDocument, error)
	FindByName(ctx context.Context, fileName string) (*models.UploadedDocument, error)
	ListDocuments(ctx context.Context) ([]models.UploadedDocument, error)
}

// Store is a registry and index that can commit a document atomically.
type Store interface {
	VectorIndex
	Registry

	// CommitDocument persists doc and all of its chunks as one unit: readers
	// see either every chunk of the document or none of them.
	CommitDocument(ctx context.Context, doc models.UploadedDocument, chunks []models.IndexedChunk) error
	// DeleteDocument removes the document and its chunks. Deleting an unknown id is not an error.
	DeleteDocument(ctx context.Context, documentID string) error
	// BindProfile pins the embedding profile of the index on first use. Later
	// calls with a different profile fail with ErrProfileMismatch. Clear unpins it.
	BindProfile(ctx context.Context, profile models.EmbeddingProfile) error
	Ping(ctx context.Context) error
	Close() error
}

// MatchProfile fails with ErrProfileMismatch unless want equals the bound profile.
func MatchProfile(bound, want models.EmbeddingProfile) error {
	if bound != want {
		return fmt.Errorf("%w: index uses %s, embedder is %s", models.ErrProfileMismatch, bound, want)
	}
	return nil
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1 from everything.
func CosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Rank orders matches ascending by distance keeping the input order for ties,
// drops anything beyond maxDistance and caps the result at topK.
func Rank(matches models.RetrievalResult, topK int, maxDistance *float64) models.RetrievalResult {
	out := make(models.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		if maxDistance != nil && m.Distance > *maxDistance {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// ValidateChunks checks that every chunk belongs to doc, is correctly positioned
// and carries a vector of the given dimension.
func ValidateChunks(documentID string, dimension int, chunks []models.IndexedChunk) error {
	for i, c := range chunks {
		if c.Chunk.SourceDocumentID != documentID {
			return fmt.Errorf("chunk %d belongs to document %q, not %q", i, c.Chunk.SourceDocumentID, documentID)
		}
		if !c.Chunk.Valid() {
			return fmt.Errorf("chunk %d has invalid position %d/%d", i, c.Chunk.ChunkIndex, c.Chunk.TotalChunks)
		}
		if dimension > 0 && len(c.Embedding) != dimension {
			return fmt.Errorf("chunk %d has %d dimensions, index expects %d", i, len(c.Embedding), dimension)
		}
	}
	return nil
}
