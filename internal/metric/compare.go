package metric

import (
	"errors"
	"fmt"
)

// MatchThreshold is the cosine similarity above which two faces are considered
// the same person.
const MatchThreshold = 0.6

// ErrEmptyEmbedding is returned when a comparison receives an empty vector.
var ErrEmptyEmbedding = errors.New("embedding is empty")

// Comparison is the result of comparing two face embeddings.
type Comparison struct {
	Similarity float64 `json:"similarity"`
	Match      bool    `json:"match"`
}

// Compare computes the cosine similarity between two embeddings using the same
// implementation the cluster engine uses for the cosine metric.
func Compare(a, b []float32) (Comparison, error) {
	if len(a) == 0 || len(b) == 0 {
		return Comparison{}, ErrEmptyEmbedding
	}
	if len(a) != len(b) {
		return Comparison{}, fmt.Errorf("embedding dimensions differ: %d vs %d", len(a), len(b))
	}

	similarity := CosineSimilarity(a, b)
	return Comparison{
		Similarity: similarity,
		Match:      similarity > MatchThreshold,
	}, nil
}
