// Package vectormath provides vector similarity primitives for memory retrieval.
//
// All functions are pure and hold no state. Cosine similarity is the only
// metric the retrieval engine uses; Normalize and Average support embedding
// maintenance in the store layer.
package vectormath

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch indicates that two vectors have different lengths
// and cannot be compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// Cosine similarity measures the cosine of the angle between two vectors,
// ranging from -1 (opposite) to 1 (identical).
//
// The formula is: similarity = (A · B) / (||A|| * ||B||)
//
// Zero vectors yield a similarity of 0 by convention rather than a
// division-by-zero fault. Vectors of different lengths return
// ErrDimensionMismatch.
//
// Parameters:
//   - a: First vector
//   - b: Second vector
//
// Returns cosine similarity between -1.0 and 1.0, or ErrDimensionMismatch.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Normalize normalizes a vector to unit length (L2 norm).
//
// If the vector has zero norm, returns it unchanged.
func Normalize(v []float64) []float64 {
	var sum float64
	for _, val := range v {
		sum += val * val
	}
	norm := math.Sqrt(sum)

	if norm == 0 {
		return v
	}

	result := make([]float64, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

// Average calculates the element-wise average of two vectors and normalizes
// the result to unit length.
//
// If the vectors have different dimensions, returns the first vector unchanged.
func Average(a, b []float64) []float64 {
	if len(a) != len(b) {
		return a
	}

	result := make([]float64, len(a))
	for i := range a {
		result[i] = (a[i] + b[i]) / 2.0
	}

	return Normalize(result)
}
