package cluster

import (
	"math/rand"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-cluster/internal/metric"
)

const (
	// hnswMaxNeighbors is the per-layer connection count of the approximate graph.
	hnswMaxNeighbors = 16
	// hnswSeed fixes graph construction so repeated runs build the same graph.
	hnswSeed = 42
	// hnswInitialK is the first candidate count requested per radius query.
	hnswInitialK = 32
)

// neighborIndex answers fixed-radius queries over the vectors of one run.
type neighborIndex interface {
	// radius returns the indices within eps of point i, i included, in ascending order.
	radius(i int, eps float64) []int
}

// exactIndex compares the query against every point.
type exactIndex struct {
	vectors  [][]float32
	distance metric.DistanceFunc
}

func newExactIndex(vectors [][]float32, distance metric.DistanceFunc) *exactIndex {
	return &exactIndex{vectors: vectors, distance: distance}
}

func (x *exactIndex) radius(i int, eps float64) []int {
	var out []int
	for j := range x.vectors {
		if j == i || x.distance(x.vectors[i], x.vectors[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

// hnswIndex asks an HNSW graph for candidates and keeps those within eps under
// the configured metric. Candidate counts double until a query returns a point
// outside the radius or the whole set.
type hnswIndex struct {
	graph    *hnsw.Graph[int]
	vectors  [][]float32
	distance metric.DistanceFunc
}

func newHNSWIndex(vectors [][]float32, distance metric.DistanceFunc, m metric.Metric) *hnswIndex {
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Rng = rand.New(rand.NewSource(hnswSeed)) //nolint:gosec // graph layout, not security
	if m == metric.Euclidean {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}

	for i, v := range vectors {
		g.Add(hnsw.MakeNode(i, v))
	}
	return &hnswIndex{graph: g, vectors: vectors, distance: distance}
}

func (h *hnswIndex) radius(i int, eps float64) []int {
	n := len(h.vectors)
	k := min(hnswInitialK, n)
	for {
		h.graph.EfSearch = max(k, hnswInitialK)
		nodes := h.graph.Search(h.vectors[i], k)

		found := make([]bool, n)
		found[i] = true
		saturated := true
		for _, node := range nodes {
			if h.distance(h.vectors[i], h.vectors[node.Key]) <= eps {
				found[node.Key] = true
			} else {
				saturated = false
			}
		}

		if !saturated || k >= n {
			out := make([]int, 0, len(nodes)+1)
			for j, ok := range found {
				if ok {
					out = append(out, j)
				}
			}
			return out
		}
		k = min(k*2, n)
	}
}
