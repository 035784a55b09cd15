package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-rag/internal/config"
)

// NewDB wraps a Postgres connection with bun. Debug logs every query.
func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens Postgres with the configured driver, pgdriver or lib/pq.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL
	if !strings.Contains(dsn, "sslmode=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "sslmode=disable"
	}

	var sqldb *sql.DB
	switch cfg.Driver {
	case config.DriverPQ:
		var err error
		sqldb, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
	default:
		opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		sqldb = sql.OpenDB(pgdriver.NewConnector(opts...))
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return sqldb, nil
}

// InitDB enables pgvector and creates the tables if they do not exist.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*documentRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*profileRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create profiles table: %w", err)
	}
	_, err := db.NewCreateTable().
		Model((*chunkRow)(nil)).
		IfNotExists().
		ForeignKey(`("document_id") REFERENCES "uploaded_documents" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create chunks table: %w", err)
	}
	_, err = db.NewCreateIndex().
		Model((*chunkRow)(nil)).
		Index("indexed_chunks_namespace_document_idx").
		Column("namespace", "document_id").
		IfNotExists().
		Exec(ctx)
	return err
}

// DropTables removes every table InitDB creates and everything in them.
func DropTables(ctx context.Context, db *bun.DB) error {
	for _, model := range []any{(*chunkRow)(nil), (*documentRow)(nil), (*profileRow)(nil)} {
		if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
