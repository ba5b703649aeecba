package face

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is returned when a record identifier is added twice to a Store.
var ErrDuplicateID = errors.New("duplicate face record identifier")

// ErrEmptyID is returned when a record has no identifier.
var ErrEmptyID = errors.New("face record identifier is empty")

// ErrEmptyEmbedding is returned when a record carries no embedding.
var ErrEmptyEmbedding = errors.New("face record embedding is empty")

// Store is the ordered, in-memory collection of face records for a single run.
// Insertion order is the order embeddings are handed to the cluster engine.
type Store struct {
	records []Record
	index   map[string]int
}

// NewStore creates an empty store with room for capacity records.
func NewStore(capacity int) *Store {
	return &Store{
		records: make([]Record, 0, capacity),
		index:   make(map[string]int, capacity),
	}
}

// Add appends a record. Identifiers must be unique within the store.
func (s *Store) Add(rec Record) error {
	if rec.ID == "" {
		return ErrEmptyID
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyEmbedding, rec.ID)
	}
	if _, exists := s.index[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	s.index[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Records returns the records in insertion order. The slice must not be modified.
func (s *Store) Records() []Record {
	return s.records
}

// Embeddings returns the embedding of every record, positionally aligned with Records.
func (s *Store) Embeddings() [][]float32 {
	vectors := make([][]float32, len(s.records))
	for i := range s.records {
		vectors[i] = s.records[i].Embedding
	}
	return vectors
}
