package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

const uniqueViolation = "23505"

// PGStore keeps documents and chunk vectors in Postgres with pgvector.
// All rows are scoped to a namespace so embedders never share vectors.
type PGStore struct {
	db        *bun.DB
	namespace string
	dimension int
}

var _ store.Store = (*PGStore)(nil)

func NewPGStore(db *bun.DB, namespace string, dimension int) *PGStore {
	return &PGStore{db: db, namespace: namespace, dimension: dimension}
}

func (s *PGStore) CommitDocument(ctx context.Context, doc models.UploadedDocument, chunks []models.IndexedChunk) error {
	if err := store.ValidateChunks(doc.ID, s.dimension, chunks); err != nil {
		return err
	}
	rows, err := s.chunkRows(chunks)
	if err != nil {
		return err
	}
	docRow := documentToRow(s.namespace, doc)

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&docRow).Exec(ctx); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	if err != nil {
		return classify(err)
	}

	log.Debug().Str("document", doc.ID).Int("chunks", len(rows)).Str("namespace", s.namespace).Msg("Committed document")
	return nil
}

func (s *PGStore) Insert(ctx context.Context, chunks ...models.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows, err := s.chunkRows(chunks)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func (s *PGStore) chunkRows(chunks []models.IndexedChunk) ([]chunkRow, error) {
	rows := make([]chunkRow, 0, len(chunks))
	for i, c := range chunks {
		if s.dimension > 0 && len(c.Embedding) != s.dimension {
			return nil, fmt.Errorf("chunk %d has %d dimensions, index expects %d", i, len(c.Embedding), s.dimension)
		}
		row, err := chunkToRow(s.namespace, c)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *PGStore) NearestNeighbors(ctx context.Context, vector []float32, topK int, maxDistance *float64) (models.RetrievalResult, error) {
	if topK <= 0 {
		return models.RetrievalResult{}, nil
	}
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d", len(vector), s.dimension)
	}

	query := pgvector.NewVector(vector)
	var rows []matchRow
	q := s.db.NewSelect().
		Model(&rows).
		ColumnExpr("c.*").
		ColumnExpr("c.embedding <=> ? AS distance", query).
		Where("c.namespace = ?", s.namespace)
	if maxDistance != nil {
		q = q.Where("c.embedding <=> ? <= ?", query, *maxDistance)
	}
	err := q.OrderExpr("distance ASC, c.seq ASC").Limit(topK).Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, classify(err)
	}

	result := make(models.RetrievalResult, 0, len(rows))
	for _, row := range rows {
		c, err := chunkFromRow(row.chunkRow)
		if err != nil {
			return nil, err
		}
		result = append(result, models.Match{Chunk: c.Chunk, Distance: row.Distance})
	}
	return result, nil
}

func (s *PGStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.NewDelete().
		Model((*chunkRow)(nil)).
		Where("namespace = ?", s.namespace).
		Where("document_id = ?", documentID).
		Exec(ctx)
	return classify(err)
}

func (s *PGStore) DeleteDocument(ctx context.Context, documentID string) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*chunkRow)(nil)).
			Where("namespace = ?", s.namespace).
			Where("document_id = ?", documentID).
			Exec(ctx)
		if err != nil {
			return err
		}
		_, err = tx.NewDelete().
			Model((*documentRow)(nil)).
			Where("namespace = ?", s.namespace).
			Where("id = ?", documentID).
			Exec(ctx)
		return err
	})
	return classify(err)
}

// Clear removes every document and chunk in the namespace and unpins its profile.
func (s *PGStore) Clear(ctx context.Context) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*chunkRow)(nil)).Where("namespace = ?", s.namespace).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*documentRow)(nil)).Where("namespace = ?", s.namespace).Exec(ctx); err != nil {
			return err
		}
		return unbindProfile(ctx, tx, s.namespace)
	})
	return classify(err)
}

func (s *PGStore) BindProfile(ctx context.Context, profile models.EmbeddingProfile) error {
	err := bindProfile(ctx, s.db, s.namespace, profile)
	if errors.Is(err, models.ErrProfileMismatch) {
		return err
	}
	return classify(err)
}

func (s *PGStore) FindByHash(ctx context.Context, contentHash string) (*models.UploadedDocument, error) {
	return s.findOne(ctx, "content_hash = ?", contentHash)
}

func (s *PGStore) FindByName(ctx context.Context, fileName string) (*models.UploadedDocument, error) {
	return s.findOne(ctx, "file_name = ?", fileName)
}

func (s *PGStore) findOne(ctx context.Context, where string, arg any) (*models.UploadedDocument, error) {
	var row documentRow
	err := s.db.NewSelect().
		Model(&row).
		Where("namespace = ?", s.namespace).
		Where(where, arg).
		OrderExpr("uploaded_at ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	doc := documentFromRow(row)
	return &doc, nil
}

func (s *PGStore) ListDocuments(ctx context.Context) ([]models.UploadedDocument, error) {
	var rows []documentRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("namespace = ?", s.namespace).
		OrderExpr("uploaded_at ASC, id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, classify(err)
	}
	docs := make([]models.UploadedDocument, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, documentFromRow(row))
	}
	return docs, nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

// classify maps driver errors onto the domain sentinels. Server-side errors
// pass through unchanged; anything that never reached the server is treated
// as the index being unavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		if pgErr.Field('C') == uniqueViolation {
			return fmt.Errorf("%w: %v", models.ErrDuplicateContent, err)
		}
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("%w: %v", models.ErrDuplicateContent, err)
		}
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrIndexUnavailable, err)
}
