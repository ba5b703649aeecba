// Package metric provides the distance functions shared by the cluster engine
// and the pairwise embedding comparison.
package metric

import (
	"fmt"
	"math"
	"strings"
)

// Metric names a distance function.
type Metric string

const (
	Cosine    Metric = "cosine"
	Euclidean Metric = "euclidean"
)

// DistanceFunc returns a non-negative distance between two equal-length vectors.
type DistanceFunc func(a, b []float32) float64

// Parse converts a user-supplied name into a Metric.
func Parse(name string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(name))); m {
	case Cosine, Euclidean:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported metric %q", name)
	}
}

// Func returns the distance function for the metric.
func (m Metric) Func() (DistanceFunc, error) {
	switch m {
	case Cosine:
		return CosineDistance, nil
	case Euclidean:
		return EuclideanDistance, nil
	default:
		return nil, fmt.Errorf("unsupported metric %q", string(m))
	}
}

// CosineSimilarity computes the cosine similarity between two embedding vectors.
// Returns a value between -1 and 1, where 1 means identical direction.
// Zero vectors and mismatched lengths have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to absorb floating point error
	return max(-1, min(1, similarity))
}

// CosineDistance is 1 - cosine similarity, between 0 (same direction) and 2 (opposite).
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// EuclideanDistance computes the L2 distance between two vectors.
// Mismatched lengths yield +Inf so they never fall inside a neighborhood.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
