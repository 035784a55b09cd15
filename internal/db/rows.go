package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"pdf-rag/internal/models"
)

type documentRow struct {
	bun.BaseModel `bun:"table:uploaded_documents,alias:d"`

	ID            string    `bun:"id,pk"`
	Namespace     string    `bun:"namespace,notnull,unique:uploaded_documents_namespace_hash"`
	FileName      string    `bun:"file_name,notnull"`
	ContentHash   string    `bun:"content_hash,notnull,unique:uploaded_documents_namespace_hash"`
	UploadedAt    time.Time `bun:"uploaded_at,notnull"`
	ChunkCount    int       `bun:"chunk_count,notnull"`
	PageCount     int       `bun:"page_count,notnull"`
	SchemaVersion int       `bun:"schema_version,notnull"`
}

type chunkRow struct {
	bun.BaseModel `bun:"table:indexed_chunks,alias:c"`

	ID            string          `bun:"id,pk"`
	Seq           int64           `bun:"seq,autoincrement"`
	Namespace     string          `bun:"namespace,notnull"`
	DocumentID    string          `bun:"document_id,notnull"`
	ChunkIndex    int             `bun:"chunk_index,notnull"`
	TotalChunks   int             `bun:"total_chunks,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector,notnull"`
	Metadata      string          `bun:"metadata,type:jsonb,notnull"`
	SchemaVersion int             `bun:"schema_version,notnull"`
}

type matchRow struct {
	chunkRow `bun:",extend"`

	Distance float64 `bun:"distance"`
}

func documentToRow(namespace string, doc models.UploadedDocument) documentRow {
	return documentRow{
		ID:            doc.ID,
		Namespace:     namespace,
		FileName:      doc.FileName,
		ContentHash:   doc.ContentHash,
		UploadedAt:    doc.UploadedAt.UTC(),
		ChunkCount:    doc.ChunkCount,
		PageCount:     doc.PageCount,
		SchemaVersion: models.SchemaVersion,
	}
}

func documentFromRow(row documentRow) models.UploadedDocument {
	return models.UploadedDocument{
		ID:          row.ID,
		FileName:    row.FileName,
		ContentHash: row.ContentHash,
		UploadedAt:  row.UploadedAt.UTC(),
		ChunkCount:  row.ChunkCount,
		PageCount:   row.PageCount,
	}
}

func chunkToRow(namespace string, c models.IndexedChunk) (chunkRow, error) {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return chunkRow{}, fmt.Errorf("failed to encode metadata of chunk %s: %w", c.ID, err)
	}
	return chunkRow{
		ID:            c.ID,
		Namespace:     namespace,
		DocumentID:    c.Chunk.SourceDocumentID,
		ChunkIndex:    c.Chunk.ChunkIndex,
		TotalChunks:   c.Chunk.TotalChunks,
		Content:       c.Chunk.Text,
		Embedding:     pgvector.NewVector(c.Embedding),
		Metadata:      string(meta),
		SchemaVersion: models.SchemaVersion,
	}, nil
}

func chunkFromRow(row chunkRow) (models.IndexedChunk, error) {
	var meta models.Metadata
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			return models.IndexedChunk{}, fmt.Errorf("failed to decode metadata of chunk %s: %w", row.ID, err)
		}
	}
	return models.IndexedChunk{
		ID: row.ID,
		Chunk: models.Chunk{
			Text:             row.Content,
			SourceDocumentID: row.DocumentID,
			ChunkIndex:       row.ChunkIndex,
			TotalChunks:      row.TotalChunks,
		},
		Embedding: row.Embedding.Slice(),
		Metadata:  meta,
	}, nil
}
