package utils

import (
	"errors"
	"math"
)

var (
	// ErrEmptyVector is returned when either operand has no components.
	ErrEmptyVector = errors.New("vectors cannot be empty")
	// ErrDimensionMismatch is returned when the operands differ in length.
	ErrDimensionMismatch = errors.New("vectors must have the same dimension")
	// ErrZeroMagnitude is returned when either operand is the zero vector,
	// where cosine similarity is undefined (0/0).
	ErrZeroMagnitude = errors.New("cosine similarity undefined for zero vector")
)

// dotProduct calculates the dot product of two vectors.
func dotProduct(vec1, vec2 []float32) float64 {
	var product float64
	for i := range vec1 {
		product += float64(vec1[i]) * float64(vec2[i])
	}
	return product
}

// magnitude calculates the L2 norm (magnitude) of a vector.
func magnitude(vec []float32) float64 {
	var sumOfSquares float64
	for _, val := range vec {
		sumOfSquares += float64(val) * float64(val)
	}
	return math.Sqrt(sumOfSquares)
}

// CosineSimilarity calculates dot(a,b)/(|a|*|b|). It never returns NaN:
// degenerate inputs yield 0 together with one of the errors above so the
// caller can decide how to rank them.
func CosineSimilarity(vec1, vec2 []float32) (float64, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, ErrEmptyVector
	}
	if len(vec1) != len(vec2) {
		return 0, ErrDimensionMismatch
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)
	if mag1 == 0 || mag2 == 0 {
		return 0, ErrZeroMagnitude
	}

	sim := dotProduct(vec1, vec2) / (mag1 * mag2)
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0, ErrZeroMagnitude
	}
	return sim, nil
}
