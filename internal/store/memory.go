package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pdf-rag/internal/models"
)

// Memory is an in-process Store using brute-force cosine distance.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	docs      map[string]models.UploadedDocument
	byHash    map[string]string
	chunks    []models.IndexedChunk
	profile   *models.EmbeddingProfile
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store. A dimension of 0 accepts any vector length.
func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		docs:      make(map[string]models.UploadedDocument),
		byHash:    make(map[string]string),
	}
}

func (s *Memory) Insert(ctx context.Context, chunks ...models.IndexedChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, c := range chunks {
		if s.dimension > 0 && len(c.Embedding) != s.dimension {
			return fmt.Errorf("chunk %d has %d dimensions, index expects %d", i, len(c.Embedding), s.dimension)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *Memory) CommitDocument(ctx context.Context, doc models.UploadedDocument, chunks []models.IndexedChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateChunks(doc.ID, s.dimension, chunks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byHash[doc.ContentHash]; ok {
		return fmt.Errorf("%w: already stored as document %s", models.ErrDuplicateContent, existing)
	}
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	doc.ChunkCount = len(chunks)
	s.docs[doc.ID] = doc
	s.byHash[doc.ContentHash] = doc.ID
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *Memory) DeleteByDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteChunksLocked(documentID)
	return nil
}

func (s *Memory) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[documentID]; ok {
		delete(s.byHash, doc.ContentHash)
		delete(s.docs, documentID)
	}
	s.deleteChunksLocked(documentID)
	return nil
}

func (s *Memory) deleteChunksLocked(documentID string) {
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.Chunk.SourceDocumentID != documentID {
			kept = append(kept, c)
		}
	}
	clear(s.chunks[len(kept):])
	s.chunks = kept
}

func (s *Memory) NearestNeighbors(ctx context.Context, vector []float32, topK int, maxDistance *float64) (models.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d", len(vector), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make(models.RetrievalResult, len(s.chunks))
	for i, c := range s.chunks {
		matches[i] = models.Match{Chunk: c.Chunk, Distance: CosineDistance(vector, c.Embedding)}
	}
	return Rank(matches, topK, maxDistance), nil
}

func (s *Memory) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = make(map[string]models.UploadedDocument)
	s.byHash = make(map[string]string)
	s.chunks = nil
	s.profile = nil
	return nil
}

func (s *Memory) BindProfile(ctx context.Context, profile models.EmbeddingProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		s.profile = &profile
		return nil
	}
	return MatchProfile(*s.profile, profile)
}

func (s *Memory) FindByHash(_ context.Context, contentHash string) (*models.UploadedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[contentHash]
	if !ok {
		return nil, nil
	}
	doc := s.docs[id]
	return &doc, nil
}

func (s *Memory) FindByName(_ context.Context, fileName string) (*models.UploadedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.docs {
		if doc.FileName == fileName {
			return &doc, nil
		}
	}
	return nil, nil
}

func (s *Memory) ListDocuments(_ context.Context) ([]models.UploadedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]models.UploadedDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UploadedAt.Equal(docs[j].UploadedAt) {
			return docs[i].FileName < docs[j].FileName
		}
		return docs[i].UploadedAt.Before(docs[j].UploadedAt)
	})
	return docs, nil
}

func (s *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Memory) Close() error { return nil }
