package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

// Chunk metadata keys written next to the profile metadata.
const (
	metaDocumentID  = "document_id"
	metaChunkIndex  = "chunk_index"
	metaTotalChunks = "total_chunks"
	metaInsertedAt  = "inserted_at"
	metaFileName    = "file_name"
	metaContentHash = "content_hash"
	metaPageCount   = "page_count"
)

// Registry records uploaded documents for the embedded store.
type Registry interface {
	store.Registry
	FindByID(ctx context.Context, documentID string) (*models.UploadedDocument, error)
	Save(ctx context.Context, doc models.UploadedDocument) error
	Delete(ctx context.Context, documentID string) error
	Clear(ctx context.Context) error
	BindProfile(ctx context.Context, profile models.EmbeddingProfile) error
	Ping(ctx context.Context) error
	Close() error
}

type Options struct {
	Path          string
	Collection    string
	InMemory      bool
	Compress      bool
	EncryptionKey string
	Dimension     int
}

// Store keeps chunk vectors in a chromem collection and documents in a Registry.
type Store struct {
	db       *chromem.DB
	registry Registry
	opts     Options

	mu         sync.RWMutex
	collection *chromem.Collection
	// pending holds documents whose chunks are still being written; their
	// chunks are hidden from searches until the commit completes.
	pending map[string]struct{}
}

var _ store.Store = (*Store)(nil)

func NewStore(opts Options, registry Registry) (*Store, error) {
	var db *chromem.DB
	if opts.InMemory {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	s := &Store{
		db:       db,
		registry: registry,
		opts:     opts,
		pending:  make(map[string]struct{}),
	}
	if _, err := s.getOrCreateCollection(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) getOrCreateCollection() (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.db.GetOrCreateCollection(s.opts.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	s.collection = c
	return c, nil
}

func (s *Store) current() *chromem.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection
}

// CommitDocument records the document, then writes its chunks. If the chunk
// write fails, both the written chunks and the registry entry are removed.
func (s *Store) CommitDocument(ctx context.Context, doc models.UploadedDocument, chunks []models.IndexedChunk) error {
	if err := store.ValidateChunks(doc.ID, s.opts.Dimension, chunks); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending[doc.ID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, doc.ID)
		s.mu.Unlock()
	}()

	if err := s.registry.Save(ctx, doc); err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = toDocument(c, doc)
	}
	if len(docs) == 0 {
		return nil
	}

	if err := s.current().AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		cleanup := context.WithoutCancel(ctx)
		if delErr := s.DeleteByDocument(cleanup, doc.ID); delErr != nil {
			log.Error().Err(delErr).Str("document", doc.ID).Msg("Failed to remove partial chunks")
		}
		if delErr := s.registry.Delete(cleanup, doc.ID); delErr != nil {
			log.Error().Err(delErr).Str("document", doc.ID).Msg("Failed to remove registry entry")
		}
		return fmt.Errorf("failed to add documents: %w", err)
	}

	log.Debug().Str("document", doc.ID).Int("chunks", len(docs)).Str("collection", s.opts.Collection).Msg("Committed document")
	return nil
}

// Insert writes chunks without touching the registry.
func (s *Store) Insert(ctx context.Context, chunks ...models.IndexedChunk) error {
	docs := make([]chromem.Document, len(chunks))
	now := time.Now().UTC()
	for i, c := range chunks {
		if s.opts.Dimension > 0 && len(c.Embedding) != s.opts.Dimension {
			return fmt.Errorf("chunk %d has %d dimensions, index expects %d", i, len(c.Embedding), s.opts.Dimension)
		}
		docs[i] = toDocument(c, models.UploadedDocument{ID: c.Chunk.SourceDocumentID, UploadedAt: now})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.current().AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func toDocument(c models.IndexedChunk, doc models.UploadedDocument) chromem.Document {
	meta := c.Metadata.Flatten()
	meta[metaDocumentID] = c.Chunk.SourceDocumentID
	meta[metaChunkIndex] = strconv.Itoa(c.Chunk.ChunkIndex)
	meta[metaTotalChunks] = strconv.Itoa(c.Chunk.TotalChunks)
	meta[metaInsertedAt] = strconv.FormatInt(doc.UploadedAt.UnixNano(), 10)
	if doc.FileName != "" {
		meta[metaFileName] = doc.FileName
		meta[metaContentHash] = doc.ContentHash
		meta[metaPageCount] = strconv.Itoa(doc.PageCount)
	}
	return chromem.Document{
		ID:        c.ID,
		Content:   c.Chunk.Text,
		Metadata:  meta,
		Embedding: c.Embedding,
	}
}

type ranked struct {
	match      models.Match
	insertedAt int64
}

// NearestNeighbors scores every chunk in the collection so ties can be
// ordered by insertion.
func (s *Store) NearestNeighbors(ctx context.Context, vector []float32, topK int, maxDistance *float64) (models.RetrievalResult, error) {
	if topK <= 0 {
		return models.RetrievalResult{}, nil
	}
	if s.opts.Dimension > 0 && len(vector) != s.opts.Dimension {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d", len(vector), s.opts.Dimension)
	}

	// Deletes take the write lock, so the count cannot shrink before the query runs.
	s.mu.RLock()
	c := s.collection
	n := c.Count()
	if n == 0 {
		s.mu.RUnlock()
		return models.RetrievalResult{}, nil
	}
	results, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
	})
	if err != nil {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: failed to query by similarity: %v", models.ErrIndexUnavailable, err)
	}
	hits := make([]ranked, 0, len(results))
	for _, r := range results {
		if _, hidden := s.pending[r.Metadata[metaDocumentID]]; hidden {
			continue
		}
		hits = append(hits, fromResult(r))
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].insertedAt != hits[j].insertedAt {
			return hits[i].insertedAt < hits[j].insertedAt
		}
		return hits[i].match.Chunk.ChunkIndex < hits[j].match.Chunk.ChunkIndex
	})
	matches := make(models.RetrievalResult, len(hits))
	for i, h := range hits {
		matches[i] = h.match
	}
	return store.Rank(matches, topK, maxDistance), nil
}

func fromResult(r chromem.Result) ranked {
	idx, _ := strconv.Atoi(r.Metadata[metaChunkIndex])
	total, _ := strconv.Atoi(r.Metadata[metaTotalChunks])
	at, _ := strconv.ParseInt(r.Metadata[metaInsertedAt], 10, 64)
	return ranked{
		match: models.Match{
			Chunk: models.Chunk{
				Text:             r.Content,
				SourceDocumentID: r.Metadata[metaDocumentID],
				ChunkIndex:       idx,
				TotalChunks:      total,
			},
			Distance: 1 - float64(r.Similarity),
		},
		insertedAt: at,
	}
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	err := s.collection.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", documentID, err)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if err := s.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	return s.registry.Delete(ctx, documentID)
}

// Clear drops and recreates the collection, empties the registry and unpins the profile.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	err := s.db.DeleteCollection(s.opts.Collection)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	if _, err := s.getOrCreateCollection(); err != nil {
		return err
	}
	return s.registry.Clear(ctx)
}

func (s *Store) BindProfile(ctx context.Context, profile models.EmbeddingProfile) error {
	return s.registry.BindProfile(ctx, profile)
}

func (s *Store) FindByHash(ctx context.Context, contentHash string) (*models.UploadedDocument, error) {
	return s.registry.FindByHash(ctx, contentHash)
}

func (s *Store) FindByName(ctx context.Context, fileName string) (*models.UploadedDocument, error) {
	return s.registry.FindByName(ctx, fileName)
}

func (s *Store) ListDocuments(ctx context.Context) ([]models.UploadedDocument, error) {
	return s.registry.ListDocuments(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.registry.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndexUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.registry.Close()
}

// ExportPath is where Export writes the collection by default.
func (s *Store) ExportPath() string {
	return filepath.Join(s.opts.Path, s.opts.Collection+".chromem")
}

// Export writes the collection to path, encrypted with the configured key.
func (s *Store) Export(ctx context.Context, path string) error {
	if err := s.checkKey(); err != nil {
		return err
	}
	if path == "" {
		path = s.ExportPath()
	}
	log.Debug().
		Str("collection", s.opts.Collection).
		Str("path", path).
		Bool("compress", s.opts.Compress).
		Msg("Exporting collection")

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.db.ExportToFile(path, s.opts.Compress, s.opts.EncryptionKey, s.opts.Collection); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import replaces the collection with the one stored at path and brings the
// registry in line with it: documents missing from the imported collection
// are unregistered and imported documents are registered. It returns the
// number of documents in the imported collection.
func (s *Store) Import(ctx context.Context, path string) (int, error) {
	if err := s.checkKey(); err != nil {
		return 0, err
	}
	if path == "" {
		path = s.ExportPath()
	}

	s.mu.Lock()
	err := s.db.ImportFromFile(path, s.opts.EncryptionKey, s.opts.Collection)
	s.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to import database: %w", err)
	}
	c, err := s.getOrCreateCollection()
	if err != nil {
		return 0, err
	}
	docs, err := s.importedDocuments(ctx, c)
	if err != nil {
		return 0, err
	}
	return s.reconcile(ctx, docs)
}

// importedDocuments rebuilds the documents recorded in chunk metadata.
func (s *Store) importedDocuments(ctx context.Context, c *chromem.Collection) (map[string]models.UploadedDocument, error) {
	docs := make(map[string]models.UploadedDocument)
	n := c.Count()
	if n == 0 {
		return docs, nil
	}
	if s.opts.Dimension <= 0 {
		return nil, fmt.Errorf("cannot list imported chunks without a dimension")
	}
	// chromem has no listing call; a query for every result returns the whole collection.
	anchor := make([]float32, s.opts.Dimension)
	anchor[0] = 1
	results, err := c.QueryEmbedding(ctx, anchor, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list imported chunks: %w", err)
	}

	for _, r := range results {
		id := r.Metadata[metaDocumentID]
		if id == "" || r.Metadata[metaContentHash] == "" {
			continue
		}
		doc, ok := docs[id]
		if !ok {
			at, _ := strconv.ParseInt(r.Metadata[metaInsertedAt], 10, 64)
			pages, _ := strconv.Atoi(r.Metadata[metaPageCount])
			doc = models.UploadedDocument{
				ID:          id,
				FileName:    r.Metadata[metaFileName],
				ContentHash: r.Metadata[metaContentHash],
				UploadedAt:  time.Unix(0, at).UTC(),
				PageCount:   pages,
			}
		}
		doc.ChunkCount++
		docs[id] = doc
	}
	return docs, nil
}

func (s *Store) reconcile(ctx context.Context, docs map[string]models.UploadedDocument) (int, error) {
	registered, err := s.registry.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range registered {
		if imported, ok := docs[doc.ID]; ok && imported.ContentHash == doc.ContentHash {
			continue
		}
		if err := s.registry.Delete(ctx, doc.ID); err != nil {
			return 0, err
		}
		removed++
	}

	count := 0
	for _, doc := range docs {
		existing, err := s.registry.FindByID(ctx, doc.ID)
		if err != nil {
			return count, err
		}
		if existing == nil {
			err := s.registry.Save(ctx, doc)
			if errors.Is(err, models.ErrDuplicateContent) {
				log.Warn().Str("document", doc.ID).Str("file", doc.FileName).Msg("Imported document repeats registered content, dropping its chunks")
				if err := s.DeleteByDocument(ctx, doc.ID); err != nil {
					return count, err
				}
				continue
			}
			if err != nil {
				return count, err
			}
		}
		count++
	}
	log.Info().Int("documents", count).Int("unregistered", removed).Msg("Imported collection")
	return count, nil
}

func (s *Store) checkKey() error {
	if len(s.opts.EncryptionKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(s.opts.EncryptionKey))
	}
	return nil
}
