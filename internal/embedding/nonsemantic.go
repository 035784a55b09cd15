package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"

	"pdf-rag/internal/models"
)

// NonSemantic derives a unit vector from a hash of the text. Equal texts get
// equal vectors but distances carry no meaning, so its vectors must never
// share a namespace with a semantic embedder's.
type NonSemantic struct {
	profile models.EmbeddingProfile
}

var _ Embedder = (*NonSemantic)(nil)

func NewNonSemantic(dimension int) *NonSemantic {
	return &NonSemantic{profile: models.EmbeddingProfile{
		Model:     "nonsemantic-sha256",
		Pooling:   models.PoolingMean,
		Metric:    models.MetricCosine,
		Dimension: dimension,
	}}
}

func (n *NonSemantic) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, n.profile.Dimension)
	seed := sha256.Sum256([]byte(text))
	var block [sha256.Size]byte
	var counter [4]byte
	for i := range vec {
		if i%(sha256.Size/4) == 0 {
			binary.BigEndian.PutUint32(counter[:], uint32(i))
			block = sha256.Sum256(append(seed[:], counter[:]...))
		}
		off := (i % (sha256.Size / 4)) * 4
		u := binary.BigEndian.Uint32(block[off : off+4])
		vec[i] = float32(u)/float32(1<<31) - 1
	}
	Normalize(vec)
	return vec, nil
}

func (n *NonSemantic) Dimension() int                   { return n.profile.Dimension }
func (n *NonSemantic) Profile() models.EmbeddingProfile { return n.profile }
func (n *NonSemantic) Semantic() bool                   { return false }
func (n *NonSemantic) Close() error                     { return nil }
