package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"pdf-rag/internal/dedup"
	"pdf-rag/internal/embedding"
	"pdf-rag/internal/helper"
	"pdf-rag/internal/llmservice"
	"pdf-rag/internal/metrics"
	"pdf-rag/internal/models"
	"pdf-rag/internal/parser"
	"pdf-rag/internal/prompt"
	"pdf-rag/internal/store"
)

type Options struct {
	TopK            int
	MaxDistance     *float64
	MaxUploadBytes  int64
	UniqueFileNames bool
	StreamPolicy    string
}

// RAG ingests PDFs into a store and answers questions from it.
type RAG struct {
	store     store.Store
	embedder  embedding.Embedder
	generator llmservice.Generator
	extractor parser.Extractor
	chunker   *parser.Chunker
	dedup     *dedup.Deduplicator
	retriever *Retriever
	opts      Options
}

func NewRAG(st store.Store, embedder embedding.Embedder, generator llmservice.Generator, extractor parser.Extractor, chunker *parser.Chunker, opts Options) *RAG {
	if opts.TopK <= 0 {
		opts.TopK = models.DefaultTopK
	}
	return &RAG{
		store:     st,
		embedder:  embedder,
		generator: generator,
		extractor: extractor,
		chunker:   chunker,
		dedup:     dedup.New(st, opts.UniqueFileNames),
		retriever: NewRetriever(embedder, st),
		opts:      opts,
	}
}

func (r *RAG) Retriever() *Retriever { return r.retriever }

// Ingest stores a PDF as chunks and returns how many were stored. Either the
// document and all of its chunks are committed or nothing is.
func (r *RAG) Ingest(ctx context.Context, fileName string, raw []byte) (int, error) {
	if err := r.validate(raw); err != nil {
		return 0, r.reject(err, fileName)
	}

	if err := r.bindProfile(ctx); err != nil {
		return 0, err
	}

	hash := dedup.Fingerprint(raw)
	if err := r.dedup.Check(ctx, fileName, hash); err != nil {
		return 0, r.reject(err, fileName)
	}

	ext, err := r.extractor.ExtractText(ctx, raw)
	if err != nil {
		return 0, r.reject(err, fileName)
	}
	text := parser.CleanText(ext.Text)

	docID, err := helper.GenerateUUID()
	if err != nil {
		return 0, err
	}
	chunks := r.chunker.Split(docID, text)
	if len(chunks) == 0 {
		log.Warn().Str("file", fileName).Int("pages", ext.PageCount).Msg("No text found in document, nothing stored")
		return 0, nil
	}

	indexed, err := r.embedChunks(ctx, fileName, chunks)
	if err != nil {
		return 0, err
	}

	doc := models.UploadedDocument{
		ID:          docID,
		FileName:    fileName,
		ContentHash: hash,
		UploadedAt:  time.Now().UTC(),
		ChunkCount:  len(indexed),
		PageCount:   ext.PageCount,
	}
	if err := r.store.CommitDocument(ctx, doc, indexed); err != nil {
		return 0, r.reject(err, fileName)
	}

	metrics.DocumentsIngested.Inc()
	metrics.ChunksIngested.Add(float64(len(indexed)))
	log.Info().Str("file", fileName).Str("document", docID).Int("chunks", len(indexed)).Int("pages", ext.PageCount).Msg("Ingested document")
	return len(indexed), nil
}

// bindProfile makes the store refuse to mix vectors from different embedding profiles.
func (r *RAG) bindProfile(ctx context.Context) error {
	if err := r.store.BindProfile(ctx, r.embedder.Profile()); err != nil {
		log.Error().Err(err).Msg("Embedding profile does not match the index")
		return err
	}
	return nil
}

func (r *RAG) validate(raw []byte) error {
	switch {
	case len(raw) == 0:
		return fmt.Errorf("%w: file is empty", models.ErrUploadRejected)
	case r.opts.MaxUploadBytes > 0 && int64(len(raw)) > r.opts.MaxUploadBytes:
		return fmt.Errorf("%w: file is %d bytes, limit is %d", models.ErrUploadRejected, len(raw), r.opts.MaxUploadBytes)
	case !parser.IsPDF(raw):
		return fmt.Errorf("%w: file is not a PDF", models.ErrUploadRejected)
	}
	return nil
}

// embedChunks embeds in chunk order and stops at the first failure.
func (r *RAG) embedChunks(ctx context.Context, fileName string, chunks []models.Chunk) ([]models.IndexedChunk, error) {
	meta := r.embedder.Profile().Metadata().Merge(models.Metadata{
		"file_name": models.String(fileName),
		"semantic":  models.Bool(r.embedder.Semantic()),
	})

	indexed := make([]models.IndexedChunk, 0, len(chunks))
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := r.embedder.Embed(ctx, c.Text)
		if err != nil {
			log.Error().Err(err).Str("file", fileName).Int("chunk", c.ChunkIndex).Msg("Failed to embed chunk")
			return nil, err
		}
		id, err := helper.GenerateUUID()
		if err != nil {
			return nil, err
		}
		indexed = append(indexed, models.IndexedChunk{
			ID:        id,
			Chunk:     c,
			Embedding: vec,
			Metadata:  meta.Merge(models.Metadata{"chunk_index": models.Number(float64(c.ChunkIndex))}),
		})
	}
	return indexed, nil
}

func (r *RAG) reject(err error, fileName string) error {
	if reason := rejectReason(err); reason != "" {
		metrics.IngestRejected.WithLabelValues(reason).Inc()
		log.Warn().Err(err).Str("file", fileName).Str("reason", reason).Msg("Upload rejected")
	}
	return err
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrUploadRejected):
		return "invalid_upload"
	case errors.Is(err, models.ErrDuplicateContent):
		return "duplicate_content"
	case errors.Is(err, models.ErrDuplicateFileName):
		return "duplicate_file_name"
	case errors.Is(err, models.ErrExtractionFailed):
		return "extraction_failed"
	default:
		return ""
	}
}

// Query answers a question from the stored documents with the given history
// as prior turns. The history is not modified.
func (r *RAG) Query(ctx context.Context, query string, history []models.Message) (*models.PromptResponse, error) {
	result, msgs, err := r.prepare(ctx, query, history)
	if err != nil {
		return nil, err
	}

	raw, err := r.generator.Chat(ctx, msgs)
	if err != nil {
		return nil, err
	}
	return r.respond(query, prompt.Sanitize(raw), result), nil
}

// QueryStream is Query with the answer delivered to onFragment as it is
// generated, sanitized according to the stream policy.
func (r *RAG) QueryStream(ctx context.Context, query string, history []models.Message, onFragment func(string) error) (*models.PromptResponse, error) {
	result, msgs, err := r.prepare(ctx, query, history)
	if err != nil {
		return nil, err
	}

	sanitizer := prompt.NewStreamSanitizer(r.opts.StreamPolicy, onFragment)
	if err := r.generator.ChatStream(ctx, msgs, sanitizer.Write); err != nil {
		return nil, err
	}
	if err := sanitizer.Close(); err != nil {
		return nil, err
	}
	return r.respond(query, sanitizer.Text(), result), nil
}

func (r *RAG) prepare(ctx context.Context, query string, history []models.Message) (models.RetrievalResult, []llms.MessageContent, error) {
	if err := r.bindProfile(ctx); err != nil {
		return nil, nil, err
	}
	result, err := r.retriever.Retrieve(ctx, query, r.opts.TopK, r.opts.MaxDistance)
	if err != nil {
		return nil, nil, err
	}
	return result, prompt.BuildPrompt(query, prompt.BuildContext(result), history), nil
}

func (r *RAG) respond(query, answer string, result models.RetrievalResult) *models.PromptResponse {
	if answer == "" {
		answer = models.RefusalPhrase
	}
	log.Info().Int("matches", len(result)).Bool("refused", answer == models.RefusalPhrase).Msg("Answered query")
	return &models.PromptResponse{Query: query, Content: answer, Matches: result}
}

func (r *RAG) ListDocuments(ctx context.Context) ([]models.UploadedDocument, error) {
	return r.store.ListDocuments(ctx)
}

// DeleteDocument removes every document uploaded under fileName and returns
// how many were removed.
func (r *RAG) DeleteDocument(ctx context.Context, fileName string) (int, error) {
	removed := 0
	for {
		doc, err := r.store.FindByName(ctx, fileName)
		if err != nil {
			return removed, err
		}
		if doc == nil {
			return removed, nil
		}
		if err := r.store.DeleteDocument(ctx, doc.ID); err != nil {
			return removed, err
		}
		removed++
		log.Info().Str("file", fileName).Str("document", doc.ID).Msg("Deleted document")
	}
}

// Clear removes every document and chunk. Clearing an empty store is not an error.
func (r *RAG) Clear(ctx context.Context) error {
	if err := r.store.Clear(ctx); err != nil {
		return err
	}
	log.Info().Msg("Cleared all documents")
	return nil
}

type Health struct {
	Store    error
	Embedder error
	// ProfileMatch is set when the index was built with another embedding profile.
	ProfileMatch error
	Profile      models.EmbeddingProfile
	Semantic     bool
}

func (h Health) OK() bool { return h.Store == nil && h.Embedder == nil && h.ProfileMatch == nil }

// Health pings the store, checks the embedding profile against the index and
// embeds a short test string.
func (r *RAG) Health(ctx context.Context) Health {
	h := Health{Profile: r.embedder.Profile(), Semantic: r.embedder.Semantic()}
	h.Store = r.store.Ping(ctx)
	if h.Store == nil {
		h.ProfileMatch = r.store.BindProfile(ctx, h.Profile)
	}
	if _, err := r.embedder.Embed(ctx, "health check"); err != nil {
		h.Embedder = err
	}
	return h
}
