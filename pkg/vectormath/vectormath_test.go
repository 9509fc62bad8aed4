package vectormath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/vectormath"
)

func TestCosineSimilarity_Identical(t *testing.T) {
	v := []float64{0.3, 0.5, 0.8}

	sim, err := vectormath.CosineSimilarity(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestCosineSimilarity_Symmetry(t *testing.T) {
	pairs := [][2][]float64{
		{{1, 0, 0}, {0, 1, 0}},
		{{0.2, -0.7, 0.4}, {0.9, 0.1, -0.3}},
		{{1, 2, 3}, {4, 5, 6}},
	}

	for _, pair := range pairs {
		ab, err := vectormath.CosineSimilarity(pair[0], pair[1])
		require.NoError(t, err)
		ba, err := vectormath.CosineSimilarity(pair[1], pair[0])
		require.NoError(t, err)
		assert.InDelta(t, ab, ba, 1e-12)
	}
}

func TestCosineSimilarity_Bounds(t *testing.T) {
	pairs := [][2][]float64{
		{{1, 0}, {-1, 0}},
		{{0.5, 0.5}, {0.5, 0.5}},
		{{3, -4}, {4, 3}},
	}

	for _, pair := range pairs {
		sim, err := vectormath.CosineSimilarity(pair[0], pair[1])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sim, -1.0-1e-9)
		assert.LessOrEqual(t, sim, 1.0+1e-9)
	}
}

func TestCosineSimilarity_Opposite(t *testing.T) {
	sim, err := vectormath.CosineSimilarity([]float64{1, 2, 3}, []float64{-1, -2, -3})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-9)
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	sim, err := vectormath.CosineSimilarity([]float64{0, 0, 0}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sim)
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	_, err := vectormath.CosineSimilarity([]float64{1, 2}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, vectormath.ErrDimensionMismatch)
}

func TestNormalize(t *testing.T) {
	normalized := vectormath.Normalize([]float64{3, 4})
	assert.InDelta(t, 0.6, normalized[0], 1e-9)
	assert.InDelta(t, 0.8, normalized[1], 1e-9)
}

func TestNormalize_ZeroVector(t *testing.T) {
	zero := []float64{0, 0, 0}
	assert.Equal(t, zero, vectormath.Normalize(zero))
}

func TestAverage(t *testing.T) {
	avg := vectormath.Average([]float64{1, 0}, []float64{0, 1})

	// Average of the unit axes normalizes back to unit length.
	sim, err := vectormath.CosineSimilarity(avg, []float64{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)
}

func TestAverage_DimensionMismatch(t *testing.T) {
	a := []float64{1, 2}
	assert.Equal(t, a, vectormath.Average(a, []float64{1, 2, 3}))
}
