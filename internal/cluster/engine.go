// Package cluster groups face embeddings into identities with density-based
// clustering and assembles the per-run result.
//
// Two algorithms are available:
//   - dbscan: fixed-radius density (eps + min_samples)
//   - hdbscan: variable-density hierarchy (min_cluster_size + min_samples)
//
// Labels are integers aligned with the input order; NoiseLabel marks points that
// belong to no dense region. Cluster numbering is only meaningful within one run.
package cluster

import (
	"math"
	"strings"

	"github.com/kozaktomas/face-cluster/internal/metric"
)

// Algorithm selects the density criterion.
type Algorithm string

const (
	DBSCAN  Algorithm = "dbscan"
	HDBSCAN Algorithm = "hdbscan"
)

// NeighborIndex selects how DBSCAN answers radius queries.
type NeighborIndex string

const (
	// IndexExact compares every pair of points. Deterministic.
	IndexExact NeighborIndex = "exact"
	// IndexHNSW uses an approximate HNSW graph. Faster on large batches, but a
	// missed neighbor can change labels between runs.
	IndexHNSW NeighborIndex = "hnsw"
)

// NoiseLabel is the raw label of points outside every dense region.
const NoiseLabel = -1

// Params configures an Engine.
type Params struct {
	Algorithm Algorithm `json:"algorithm" yaml:"algorithm"`
	// Eps is the neighborhood radius (dbscan only).
	Eps float64 `json:"eps" yaml:"eps"`
	// MinSamples is the neighbor count that makes a point core. For hdbscan it
	// defaults to MinClusterSize.
	MinSamples int `json:"min_samples" yaml:"min_samples"`
	// MinClusterSize is the smallest hdbscan cluster. Defaults to MinSamples.
	MinClusterSize int           `json:"min_cluster_size" yaml:"min_cluster_size"`
	Metric         metric.Metric `json:"metric" yaml:"metric"`
	NeighborIndex  NeighborIndex `json:"neighbor_index,omitempty" yaml:"neighbor_index"`
}

// ParseAlgorithm accepts the algorithm names and their descriptive aliases.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dbscan", "density-radius":
		return DBSCAN, nil
	case "hdbscan", "density-adaptive":
		return HDBSCAN, nil
	default:
		return "", &ConfigurationError{Field: "algorithm", Value: name, Reason: "expected dbscan or hdbscan"}
	}
}

// Engine runs one configured clustering algorithm. It holds no per-run state and
// is safe for concurrent use.
type Engine struct {
	params   Params
	distance metric.DistanceFunc
}

// NewEngine validates params and returns an engine ready to cluster.
// Every unsupported option is reported here as a *ConfigurationError.
func NewEngine(params Params) (*Engine, error) {
	algo, err := ParseAlgorithm(string(params.Algorithm))
	if err != nil {
		return nil, err
	}
	params.Algorithm = algo

	if params.Metric == "" {
		params.Metric = metric.Cosine
	}
	m, err := metric.Parse(string(params.Metric))
	if err != nil {
		return nil, &ConfigurationError{Field: "metric", Value: params.Metric, Reason: "expected cosine or euclidean"}
	}
	params.Metric = m
	distance, err := m.Func()
	if err != nil {
		return nil, &ConfigurationError{Field: "metric", Value: params.Metric, Reason: err.Error()}
	}

	switch params.NeighborIndex {
	case "":
		params.NeighborIndex = IndexExact
	case IndexExact, IndexHNSW:
	default:
		return nil, &ConfigurationError{Field: "neighbor_index", Value: params.NeighborIndex, Reason: "expected exact or hnsw"}
	}

	switch algo {
	case DBSCAN:
		if !(params.Eps > 0) || math.IsInf(params.Eps, 1) {
			return nil, &ConfigurationError{Field: "eps", Value: params.Eps, Reason: "must be a positive number"}
		}
		if params.MinSamples < 1 {
			return nil, &ConfigurationError{Field: "min_samples", Value: params.MinSamples, Reason: "must be at least 1"}
		}
	case HDBSCAN:
		if params.MinClusterSize <= 0 {
			params.MinClusterSize = params.MinSamples
		}
		if params.MinSamples <= 0 {
			params.MinSamples = params.MinClusterSize
		}
		if params.MinClusterSize < 2 {
			return nil, &ConfigurationError{Field: "min_cluster_size", Value: params.MinClusterSize, Reason: "must be at least 2"}
		}
		if params.NeighborIndex == IndexHNSW {
			return nil, &ConfigurationError{Field: "neighbor_index", Value: params.NeighborIndex, Reason: "hdbscan needs exact distances"}
		}
	}

	return &Engine{params: params, distance: distance}, nil
}

// Params returns the normalized parameters the engine runs with.
func (e *Engine) Params() Params {
	return e.params
}

// Cluster assigns a raw label to every vector. The result has the same length
// and order as vectors. An empty input yields an empty label slice.
func (e *Engine) Cluster(vectors [][]float32) ([]int, error) {
	if len(vectors) == 0 {
		return []int{}, nil
	}
	if err := checkDimensions(vectors); err != nil {
		return nil, err
	}

	switch e.params.Algorithm {
	case HDBSCAN:
		return hdbscan(vectors, e.distance, e.params.MinClusterSize, e.params.MinSamples), nil
	default:
		var idx neighborIndex
		if e.params.NeighborIndex == IndexHNSW {
			idx = newHNSWIndex(vectors, e.distance, e.params.Metric)
		} else {
			idx = newExactIndex(vectors, e.distance)
		}
		return dbscan(len(vectors), idx, e.params.Eps, e.params.MinSamples), nil
	}
}

// checkDimensions rejects empty vectors and vectors whose length differs from the first.
func checkDimensions(vectors [][]float32) error {
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim || len(v) == 0 {
			return &DimensionMismatchError{Index: i, Expected: dim, Actual: len(v)}
		}
	}
	return nil
}
