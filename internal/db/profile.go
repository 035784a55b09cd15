package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"pdf-rag/internal/models"
	"pdf-rag/internal/store"
)

type profileRow struct {
	bun.BaseModel `bun:"table:embedding_profiles,alias:p"`

	Namespace string    `bun:"namespace,pk"`
	Model     string    `bun:"model,notnull"`
	Pooling   string    `bun:"pooling,notnull"`
	Metric    string    `bun:"metric,notnull"`
	Dimension int       `bun:"dimension,notnull"`
	BoundAt   time.Time `bun:"bound_at,notnull"`
}

func profileToRow(namespace string, p models.EmbeddingProfile) profileRow {
	return profileRow{
		Namespace: namespace,
		Model:     p.Model,
		Pooling:   string(p.Pooling),
		Metric:    string(p.Metric),
		Dimension: p.Dimension,
		BoundAt:   time.Now().UTC(),
	}
}

func profileFromRow(row profileRow) models.EmbeddingProfile {
	return models.EmbeddingProfile{
		Model:     row.Model,
		Pooling:   models.Pooling(row.Pooling),
		Metric:    models.Metric(row.Metric),
		Dimension: row.Dimension,
	}
}

// bindProfile records p for namespace unless a profile is already recorded,
// then compares the recorded profile with p.
func bindProfile(ctx context.Context, idb bun.IDB, namespace string, p models.EmbeddingProfile) error {
	row := profileToRow(namespace, p)
	if _, err := idb.NewInsert().Model(&row).On("CONFLICT (namespace) DO NOTHING").Exec(ctx); err != nil {
		return err
	}
	var bound profileRow
	if err := idb.NewSelect().Model(&bound).Where("namespace = ?", namespace).Scan(ctx); err != nil {
		return err
	}
	return store.MatchProfile(profileFromRow(bound), p)
}

func unbindProfile(ctx context.Context, idb bun.IDB, namespace string) error {
	_, err := idb.NewDelete().Model((*profileRow)(nil)).Where("namespace = ?", namespace).Exec(ctx)
	return err
}
