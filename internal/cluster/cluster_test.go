package cluster

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-cluster/internal/metric"
)

// twoBlobsAndOutlier returns five vectors around 0 degrees, five around 90
// degrees and one at 225 degrees.
func twoBlobsAndOutlier() [][]float32 {
	return [][]float32{
		{1, 0}, {1, 0.02}, {1, 0.04}, {1, -0.02}, {1, -0.04},
		{0, 1}, {0.02, 1}, {0.04, 1}, {-0.02, 1}, {-0.04, 1},
		{-1, -1},
	}
}

func mustEngine(t *testing.T, p Params) *Engine {
	t.Helper()
	e, err := NewEngine(p)
	require.NoError(t, err)
	return e
}

func TestDBSCAN_NearIdenticalAndFar(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.99, 0.01, 0},
		{0.98, 0.02, 0},
		{1, 0.01, 0.01},
		{0, 1, 0},
	}

	e := mustEngine(t, Params{Algorithm: "density-radius", Eps: 0.1, MinSamples: 2, Metric: metric.Cosine})
	labels, err := e.Cluster(vectors)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, NoiseLabel}, labels)

	records := makeRecords(len(vectors))
	res, err := Assemble(records, labels)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"person_0":    {"f0", "f1", "f2", "f3"},
		"unclustered": {"f4"},
	}, res.Clusters)
	assert.Equal(t, 1, res.UniquePersons())
}

func TestDBSCAN_BorderPoint(t *testing.T) {
	// 0..2 are dense, 3 is reachable only from 2 and has too few neighbors itself.
	vectors := [][]float32{{0}, {0.1}, {0.2}, {0.45}, {5}}
	e := mustEngine(t, Params{Algorithm: DBSCAN, Eps: 0.3, MinSamples: 3, Metric: metric.Euclidean})

	labels, err := e.Cluster(vectors)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, NoiseLabel}, labels)
}

func TestDBSCAN_DiscoveryOrder(t *testing.T) {
	vectors := [][]float32{{10}, {0}, {10.1}, {0.1}}
	e := mustEngine(t, Params{Algorithm: DBSCAN, Eps: 0.5, MinSamples: 2, Metric: metric.Euclidean})

	labels, err := e.Cluster(vectors)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 1}, labels)
}

func TestHDBSCAN_TwoBlobsAndOutlier(t *testing.T) {
	e := mustEngine(t, Params{Algorithm: "density-adaptive", MinClusterSize: 3, MinSamples: 3, Metric: metric.Cosine})

	labels, err := e.Cluster(twoBlobsAndOutlier())
	require.NoError(t, err)
	require.Len(t, labels, 11)

	for i := 1; i < 5; i++ {
		assert.Equal(t, labels[0], labels[i], "blob A point %d", i)
		assert.Equal(t, labels[5], labels[5+i], "blob B point %d", 5+i)
	}
	assert.NotEqual(t, NoiseLabel, labels[0])
	assert.NotEqual(t, NoiseLabel, labels[5])
	assert.NotEqual(t, labels[0], labels[5])
	assert.Equal(t, NoiseLabel, labels[10])
}

func TestHDBSCAN_SingleBlobIsNoise(t *testing.T) {
	e := mustEngine(t, Params{Algorithm: HDBSCAN, MinClusterSize: 3, Metric: metric.Cosine})

	labels, err := e.Cluster(twoBlobsAndOutlier()[:5])
	require.NoError(t, err)
	assert.Equal(t, []int{-1, -1, -1, -1, -1}, labels)
}

func TestHDBSCAN_TooFewPoints(t *testing.T) {
	e := mustEngine(t, Params{Algorithm: HDBSCAN, MinClusterSize: 5})

	labels, err := e.Cluster([][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.Equal(t, []int{-1, -1}, labels)
}

func TestHDBSCAN_Defaults(t *testing.T) {
	e := mustEngine(t, Params{Algorithm: HDBSCAN, MinSamples: 4})
	assert.Equal(t, 4, e.Params().MinClusterSize)
	assert.Equal(t, metric.Cosine, e.Params().Metric)

	e = mustEngine(t, Params{Algorithm: HDBSCAN, MinClusterSize: 3})
	assert.Equal(t, 3, e.Params().MinSamples)
}

func TestHNSWIndexMatchesExact(t *testing.T) {
	base := Params{Algorithm: DBSCAN, Eps: 0.05, MinSamples: 2, Metric: metric.Cosine}
	exact := mustEngine(t, base)

	base.NeighborIndex = IndexHNSW
	approx := mustEngine(t, base)

	want, err := exact.Cluster(twoBlobsAndOutlier())
	require.NoError(t, err)
	got, err := approx.Cluster(twoBlobsAndOutlier())
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 1, 1, 1, 1, 1, NoiseLabel}, got)
}

func TestCluster_PositionalCorrespondence(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	vectors := make([][]float32, 60)
	for i := range vectors {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vectors[i] = v
	}

	for _, p := range []Params{
		{Algorithm: DBSCAN, Eps: 0.3, MinSamples: 2},
		{Algorithm: HDBSCAN, MinClusterSize: 3},
		{Algorithm: DBSCAN, Eps: 1.5, MinSamples: 3, Metric: metric.Euclidean},
	} {
		e := mustEngine(t, p)
		first, err := e.Cluster(vectors)
		require.NoError(t, err)
		assert.Len(t, first, len(vectors))

		second, err := e.Cluster(vectors)
		require.NoError(t, err)
		assert.Equal(t, first, second, "repeat run with %+v", p)
	}

	approx := mustEngine(t, Params{Algorithm: DBSCAN, Eps: 0.3, MinSamples: 2, NeighborIndex: IndexHNSW})
	labels, err := approx.Cluster(vectors)
	require.NoError(t, err)
	assert.Len(t, labels, len(vectors))
}

func TestCluster_EmptyInput(t *testing.T) {
	for _, algo := range []Algorithm{DBSCAN, HDBSCAN} {
		e := mustEngine(t, Params{Algorithm: algo, Eps: 0.5, MinSamples: 2})
		labels, err := e.Cluster(nil)
		require.NoError(t, err)
		assert.Empty(t, labels)
		assert.NotNil(t, labels)
	}
}

func TestCluster_DimensionMismatch(t *testing.T) {
	e := mustEngine(t, Params{Algorithm: DBSCAN, Eps: 0.5, MinSamples: 2})

	tests := []struct {
		name    string
		vectors [][]float32
		index   int
	}{
		{"shorter vector", [][]float32{{1, 0, 0}, {1, 0, 0}, {1, 0}}, 2},
		{"longer vector", [][]float32{{1, 0}, {1, 0, 0}}, 1},
		{"empty vectors", [][]float32{{}, {}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, err := e.Cluster(tt.vectors)
			assert.Nil(t, labels)
			require.ErrorIs(t, err, ErrDimensionMismatch)

			var dimErr *DimensionMismatchError
			require.ErrorAs(t, err, &dimErr)
			assert.Equal(t, tt.index, dimErr.Index)
		})
	}
}

func TestNewEngine_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		field  string
	}{
		{"unknown algorithm", Params{Algorithm: "kmeans", Eps: 0.5, MinSamples: 2}, "algorithm"},
		{"missing algorithm", Params{Eps: 0.5, MinSamples: 2}, "algorithm"},
		{"unknown metric", Params{Algorithm: DBSCAN, Eps: 0.5, MinSamples: 2, Metric: "manhattan"}, "metric"},
		{"zero eps", Params{Algorithm: DBSCAN, MinSamples: 2}, "eps"},
		{"nan eps", Params{Algorithm: DBSCAN, Eps: math.NaN(), MinSamples: 2}, "eps"},
		{"infinite eps", Params{Algorithm: DBSCAN, Eps: math.Inf(1), MinSamples: 2}, "eps"},
		{"zero min samples", Params{Algorithm: DBSCAN, Eps: 0.5}, "min_samples"},
		{"tiny hdbscan cluster", Params{Algorithm: HDBSCAN, MinClusterSize: 1}, "min_cluster_size"},
		{"hdbscan without sizes", Params{Algorithm: HDBSCAN}, "min_cluster_size"},
		{"unknown index", Params{Algorithm: DBSCAN, Eps: 0.5, MinSamples: 2, NeighborIndex: "faiss"}, "neighbor_index"},
		{"hdbscan with hnsw", Params{Algorithm: HDBSCAN, MinClusterSize: 3, NeighborIndex: IndexHNSW}, "neighbor_index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(tt.params)
			assert.Nil(t, e)
			require.ErrorIs(t, err, ErrConfiguration)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := map[string]Algorithm{
		"dbscan":           DBSCAN,
		"DBSCAN":           DBSCAN,
		"density-radius":   DBSCAN,
		" hdbscan ":        HDBSCAN,
		"density-adaptive": HDBSCAN,
	}
	for in, want := range tests {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
