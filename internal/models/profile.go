package models

import "fmt"

type Pooling string

const (
	PoolingMean Pooling = "mean"
	PoolingCLS  Pooling = "cls"
)

type Metric string

// MetricCosine is the only metric used for search: distance = 1 - cos(a, b).
const MetricCosine Metric = "cosine"

// EmbeddingProfile pins how vectors in one index were produced and compared.
// Mixing profiles inside one index degrades retrieval silently.
type EmbeddingProfile struct {
	Model     string
	Pooling   Pooling
	Metric    Metric
	Dimension int
}

var DefaultProfile = EmbeddingProfile{
	Model:     "all-MiniLM-L6-v2",
	Pooling:   PoolingMean,
	Metric:    MetricCosine,
	Dimension: DefaultDimension,
}

func (p EmbeddingProfile) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", p.Model, p.Pooling, p.Metric, p.Dimension)
}

// Metadata returns the profile fields recorded on every indexed chunk.
func (p EmbeddingProfile) Metadata() Metadata {
	return Metadata{
		"embedder":       String(p.Model),
		"pooling":        String(string(p.Pooling)),
		"metric":         String(string(p.Metric)),
		"dimension":      Number(float64(p.Dimension)),
		"schema_version": Number(SchemaVersion),
	}
}
