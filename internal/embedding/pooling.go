package embedding

import (
	"fmt"
	"math"

	"pdf-rag/internal/models"
)

// Pool reduces per-token vectors of shape (numTokens, D) to one vector of length D.
func Pool(strategy models.Pooling, tokens [][]float32, mask []int64) ([]float32, error) {
	switch strategy {
	case models.PoolingMean, "":
		return MeanPool(tokens, mask)
	case models.PoolingCLS:
		return CLSPool(tokens)
	default:
		return nil, fmt.Errorf("unknown pooling strategy %q", strategy)
	}
}

// MeanPool averages each dimension over the tokens whose mask is 1.
func MeanPool(tokens [][]float32, mask []int64) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no token embeddings to pool")
	}
	if len(mask) != len(tokens) {
		return nil, fmt.Errorf("attention mask has %d entries for %d tokens", len(mask), len(tokens))
	}

	dim := len(tokens[0])
	sums := make([]float64, dim)
	count := 0
	for j, vec := range tokens {
		if len(vec) != dim {
			return nil, fmt.Errorf("token %d has %d dimensions, expected %d", j, len(vec), dim)
		}
		if mask[j] != 1 {
			continue
		}
		for i, v := range vec {
			sums[i] += float64(v)
		}
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("attention mask selects no tokens")
	}

	pooled := make([]float32, dim)
	for i, s := range sums {
		pooled[i] = float32(s / float64(count))
	}
	return pooled, nil
}

// CLSPool returns the first token's vector.
func CLSPool(tokens [][]float32) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no token embeddings to pool")
	}
	out := make([]float32, len(tokens[0]))
	copy(out, tokens[0])
	return out, nil
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
