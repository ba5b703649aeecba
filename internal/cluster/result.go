package cluster

import (
	"fmt"
	"strconv"

	"github.com/kozaktomas/face-cluster/internal/face"
)

const (
	// UnclusteredID is the cluster id of every noise point.
	UnclusteredID = "unclustered"
	// PersonPrefix precedes the raw label in every other cluster id.
	PersonPrefix = "person_"
)

// Resolve maps a raw label to its cluster id.
func Resolve(label int) string {
	if label == NoiseLabel {
		return UnclusteredID
	}
	return PersonPrefix + strconv.Itoa(label)
}

// Result groups the records of one run by cluster id.
type Result struct {
	Success bool `json:"success"`

	// Clusters maps a cluster id to its member record ids in input order.
	Clusters   map[string][]string      `json:"clusters"`
	Embeddings map[string][]float32     `json:"embeddings"`
	Metadata   map[string]face.Metadata `json:"metadata"`
}

// Assemble zips records with their labels. Every record id ends up in exactly
// one member list and has exactly one embeddings and metadata entry.
func Assemble(records []face.Record, labels []int) (*Result, error) {
	if len(records) != len(labels) {
		return nil, &LengthMismatchError{Records: len(records), Labels: len(labels)}
	}

	res := &Result{
		Success:    true,
		Clusters:   make(map[string][]string),
		Embeddings: make(map[string][]float32, len(records)),
		Metadata:   make(map[string]face.Metadata, len(records)),
	}
	for i, rec := range records {
		if _, dup := res.Embeddings[rec.ID]; dup {
			return nil, fmt.Errorf("%w: %s", face.ErrDuplicateID, rec.ID)
		}
		id := Resolve(labels[i])
		res.Clusters[id] = append(res.Clusters[id], rec.ID)
		res.Embeddings[rec.ID] = rec.Embedding
		res.Metadata[rec.ID] = rec.Metadata
	}
	return res, nil
}

// UniquePersons counts the clusters other than the unclustered bucket.
func (r *Result) UniquePersons() int {
	n := len(r.Clusters)
	if _, ok := r.Clusters[UnclusteredID]; ok {
		n--
	}
	return n
}
