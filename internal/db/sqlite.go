package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/extra/bundebug"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pdf-rag/internal/models"
)

// MemoryPath opens a private in-memory registry.
const MemoryPath = ":memory:"

// SQLiteRegistry is the document registry used next to the embedded
// vector store. It shares the row layout of the Postgres documents table.
type SQLiteRegistry struct {
	db        *bun.DB
	namespace string
}

// OpenSQLiteRegistry opens or creates the registry database at path.
func OpenSQLiteRegistry(ctx context.Context, path, namespace string, debug bool) (*SQLiteRegistry, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == MemoryPath || path == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	} else if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	if _, err := db.NewCreateTable().Model((*documentRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create registry table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*profileRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create profile table: %w", err)
	}
	return &SQLiteRegistry{db: db, namespace: namespace}, nil
}

// Save records doc. A second document with the same content hash fails with ErrDuplicateContent.
func (r *SQLiteRegistry) Save(ctx context.Context, doc models.UploadedDocument) error {
	row := documentToRow(r.namespace, doc)
	if _, err := r.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		var sqlErr *sqlite.Error
		if errors.As(err, &sqlErr) && (sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) {
			return fmt.Errorf("%w: %v", models.ErrDuplicateContent, err)
		}
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *SQLiteRegistry) Delete(ctx context.Context, documentID string) error {
	_, err := r.db.NewDelete().
		Model((*documentRow)(nil)).
		Where("namespace = ?", r.namespace).
		Where("id = ?", documentID).
		Exec(ctx)
	return err
}

// Clear removes every document in the namespace and unpins its profile.
func (r *SQLiteRegistry) Clear(ctx context.Context) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*documentRow)(nil)).Where("namespace = ?", r.namespace).Exec(ctx); err != nil {
			return err
		}
		return unbindProfile(ctx, tx, r.namespace)
	})
}

func (r *SQLiteRegistry) BindProfile(ctx context.Context, profile models.EmbeddingProfile) error {
	return bindProfile(ctx, r.db, r.namespace, profile)
}

func (r *SQLiteRegistry) FindByHash(ctx context.Context, contentHash string) (*models.UploadedDocument, error) {
	return r.findOne(ctx, "content_hash = ?", contentHash)
}

func (r *SQLiteRegistry) FindByName(ctx context.Context, fileName string) (*models.UploadedDocument, error) {
	return r.findOne(ctx, "file_name = ?", fileName)
}

func (r *SQLiteRegistry) FindByID(ctx context.Context, documentID string) (*models.UploadedDocument, error) {
	return r.findOne(ctx, "id = ?", documentID)
}

func (r *SQLiteRegistry) findOne(ctx context.Context, where string, arg any) (*models.UploadedDocument, error) {
	var row documentRow
	err := r.db.NewSelect().
		Model(&row).
		Where("namespace = ?", r.namespace).
		Where(where, arg).
		OrderExpr("uploaded_at ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	doc := documentFromRow(row)
	return &doc, nil
}

func (r *SQLiteRegistry) ListDocuments(ctx context.Context) ([]models.UploadedDocument, error) {
	var rows []documentRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("namespace = ?", r.namespace).
		OrderExpr("uploaded_at ASC, id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	docs := make([]models.UploadedDocument, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, documentFromRow(row))
	}
	return docs, nil
}

func (r *SQLiteRegistry) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}
