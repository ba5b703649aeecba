package cluster

import (
	"cmp"
	"math"
	"slices"

	"github.com/kozaktomas/face-cluster/internal/metric"
)

// minDistance keeps lambda = 1/distance finite for duplicate embeddings.
const minDistance = 1e-12

type mstEdge struct {
	a, b   int
	weight float64
}

// linkage is one merge of the single-linkage tree. Nodes below n are points;
// merge k creates node n+k.
type linkage struct {
	left, right int
	distance    float64
	size        int
}

// condensedEdge links a condensed cluster to a child cluster or a point that
// left it at lambda.
type condensedEdge struct {
	parent int
	child  int // cluster id when isCluster, otherwise point index
	lambda float64
	size   int

	isCluster bool
}

// hdbscan labels points with hierarchical density clustering:
// mutual reachability under minSamples, a minimum spanning tree, the condensed
// tree for minClusterSize and excess-of-mass cluster selection.
// The root of the hierarchy is never selected, so a single dense blob comes
// back as noise. Clusters are numbered from 0 in condensed tree order.
func hdbscan(vectors [][]float32, distance metric.DistanceFunc, minClusterSize, minSamples int) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = NoiseLabel
	}
	minClusterSize = max(minClusterSize, 2)
	if n < minClusterSize {
		return labels
	}

	dist := pairwiseDistances(vectors, distance)
	core := coreDistances(dist, minSamples)
	edges := primMST(dist, core)
	tree := singleLinkage(n, edges)
	condensed, numClusters := condenseTree(n, tree, minClusterSize)
	selected := selectClusters(condensed, numClusters)

	return labelPoints(n, condensed, numClusters, selected)
}

func pairwiseDistances(vectors [][]float32, distance metric.DistanceFunc) [][]float64 {
	n := len(vectors)
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := range n {
		for j := i + 1; j < n; j++ {
			d := distance(vectors[i], vectors[j])
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

// coreDistances returns, per point, the distance to its minSamples-th nearest
// neighbor counting the point itself.
func coreDistances(dist [][]float64, minSamples int) []float64 {
	n := len(dist)
	k := min(max(minSamples, 1), n) - 1
	core := make([]float64, n)
	row := make([]float64, n)
	for i := range n {
		copy(row, dist[i])
		slices.Sort(row)
		core[i] = row[k]
	}
	return core
}

// primMST builds the minimum spanning tree of the mutual reachability graph.
// Ties pick the lowest point index.
func primMST(dist [][]float64, core []float64) []mstEdge {
	n := len(dist)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	current := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next := -1
		for j := range n {
			if inTree[j] {
				continue
			}
			mrd := max(core[current], core[j], dist[current][j])
			if mrd < best[j] {
				best[j] = mrd
				from[j] = current
			}
			if next == -1 || best[j] < best[next] {
				next = j
			}
		}
		inTree[next] = true
		edges = append(edges, mstEdge{a: from[next], b: next, weight: best[next]})
		current = next
	}
	return edges
}

// singleLinkage merges MST edges from shortest to longest with a union-find.
func singleLinkage(n int, edges []mstEdge) []linkage {
	slices.SortStableFunc(edges, func(x, y mstEdge) int {
		return cmp.Compare(x.weight, y.weight)
	})

	parent := make([]int, 2*n-1)
	size := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
		if i < n {
			size[i] = 1
		}
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	tree := make([]linkage, 0, n-1)
	for _, e := range edges {
		ra, rb := find(e.a), find(e.b)
		node := n + len(tree)
		parent[ra] = node
		parent[rb] = node
		size[node] = size[ra] + size[rb]
		tree = append(tree, linkage{left: ra, right: rb, distance: e.weight, size: size[node]})
	}
	return tree
}

// condenseTree walks the single-linkage tree from the root and keeps only the
// splits where both sides hold at least minClusterSize points. Cluster 0 is the
// root; children always get higher ids than their parent.
func condenseTree(n int, tree []linkage, minClusterSize int) ([]condensedEdge, int) {
	root := n + len(tree) - 1
	nodeSize := func(node int) int {
		if node < n {
			return 1
		}
		return tree[node-n].size
	}

	var condensed []condensedEdge
	// fallOut records every point under node as leaving cluster at lambda.
	fallOut := func(node, cluster int, lambda float64) {
		stack := []int{node}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top < n {
				condensed = append(condensed, condensedEdge{parent: cluster, child: top, lambda: lambda, size: 1})
				continue
			}
			l := tree[top-n]
			stack = append(stack, l.right, l.left)
		}
	}

	type frame struct{ node, cluster int }
	nextCluster := 1
	queue := []frame{{node: root, cluster: 0}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		// Only nodes of at least minClusterSize >= 2 points are queued, so f.node
		// is always a merge.
		l := tree[f.node-n]
		lambda := 1 / max(l.distance, minDistance)
		leftBig := nodeSize(l.left) >= minClusterSize
		rightBig := nodeSize(l.right) >= minClusterSize

		switch {
		case leftBig && rightBig:
			for _, child := range []int{l.left, l.right} {
				id := nextCluster
				nextCluster++
				condensed = append(condensed, condensedEdge{
					parent: f.cluster, child: id, lambda: lambda, size: nodeSize(child), isCluster: true,
				})
				queue = append(queue, frame{node: child, cluster: id})
			}
		case leftBig:
			fallOut(l.right, f.cluster, lambda)
			queue = append(queue, frame{node: l.left, cluster: f.cluster})
		case rightBig:
			fallOut(l.left, f.cluster, lambda)
			queue = append(queue, frame{node: l.right, cluster: f.cluster})
		default:
			fallOut(l.left, f.cluster, lambda)
			fallOut(l.right, f.cluster, lambda)
		}
	}
	return condensed, nextCluster
}

// selectClusters picks the flat clustering with maximal total stability
// (excess of mass). The root is never a candidate.
func selectClusters(condensed []condensedEdge, numClusters int) []bool {
	birth := make([]float64, numClusters)
	children := make([][]int, numClusters)
	for _, e := range condensed {
		if e.isCluster {
			birth[e.child] = e.lambda
			children[e.parent] = append(children[e.parent], e.child)
		}
	}

	stability := make([]float64, numClusters)
	for _, e := range condensed {
		stability[e.parent] += (e.lambda - birth[e.parent]) * float64(e.size)
	}

	selected := make([]bool, numClusters)
	for c := numClusters - 1; c >= 1; c-- {
		if len(children[c]) == 0 {
			selected[c] = true
			continue
		}
		var sub float64
		for _, ch := range children[c] {
			sub += stability[ch]
		}
		if sub > stability[c] {
			stability[c] = sub
			continue
		}
		selected[c] = true
		unselectDescendants(c, children, selected)
	}
	return selected
}

func unselectDescendants(c int, children [][]int, selected []bool) {
	stack := slices.Clone(children[c])
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		selected[top] = false
		stack = append(stack, children[top]...)
	}
}

// labelPoints gives every point the selected cluster it belongs to, walking up
// from the cluster it left. Points with no selected ancestor are noise.
func labelPoints(n int, condensed []condensedEdge, numClusters int, selected []bool) []int {
	parent := make([]int, numClusters)
	parent[0] = -1
	pointCluster := make([]int, n)
	for _, e := range condensed {
		if e.isCluster {
			parent[e.child] = e.parent
		} else {
			pointCluster[e.child] = e.parent
		}
	}

	flat := make([]int, numClusters)
	next := 0
	for c := range numClusters {
		flat[c] = NoiseLabel
		if selected[c] {
			flat[c] = next
			next++
		}
	}

	labels := make([]int, n)
	for i := range n {
		labels[i] = NoiseLabel
		for c := pointCluster[i]; c > 0; c = parent[c] {
			if selected[c] {
				labels[i] = flat[c]
				break
			}
		}
	}
	return labels
}
