package services

import (
	"errors"
	"fmt"

	"github.com/custodia-labs/lorekeep/internal/core/domain"
)

// WeightedVector is one chunk's embedding and the length of the text it represents.
type WeightedVector struct {
	Length int
	Vector []float32
}

// VectorAverager combines chunk vectors of one unit into a single vector.
type VectorAverager struct {
	normalize bool
}

// NewVectorAverager creates an averager. With normalize set, averaged vectors
// are scaled to unit length for stores that compare unit vectors.
func NewVectorAverager(normalize bool) *VectorAverager {
	return &VectorAverager{normalize: normalize}
}

// AverageChunks averages the embeddings of a unit's chunks, weighting each by
// the length of its text.
func (a *VectorAverager) AverageChunks(chunks []domain.ChunkVector) ([]float32, error) {
	weighted := make([]WeightedVector, len(chunks))
	for i, c := range chunks {
		weighted[i] = WeightedVector{Length: len(c.Text), Vector: c.Embedding}
	}
	return a.Average(weighted)
}

// Average returns the length-weighted mean of the chunk vectors.
// A single chunk is returned unchanged. When every length is zero the
// chunks are weighted equally.
func (a *VectorAverager) Average(chunks []WeightedVector) ([]float32, error) {
	if len(chunks) == 0 {
		return nil, errors.New("averaging: no vectors")
	}
	if len(chunks) == 1 {
		return chunks[0].Vector, nil
	}

	dims := len(chunks[0].Vector)
	if dims == 0 {
		return nil, fmt.Errorf("averaging: %w: empty vector", domain.ErrDimensionMismatch)
	}

	var total float64
	for i, c := range chunks {
		if len(c.Vector) != dims {
			return nil, fmt.Errorf("averaging chunk %d: %w: %d vs %d",
				i, domain.ErrDimensionMismatch, len(c.Vector), dims)
		}
		if c.Length > 0 {
			total += float64(c.Length)
		}
	}

	sum := make([]float64, dims)
	for _, c := range chunks {
		w := 1.0 / float64(len(chunks))
		if total > 0 {
			w = float64(max(c.Length, 0)) / total
		}
		for j, v := range c.Vector {
			sum[j] += w * float64(v)
		}
	}

	out := make([]float32, dims)
	for j, v := range sum {
		out[j] = float32(v)
	}
	if a.normalize {
		domain.Normalize(out)
	}
	return out, nil
}
