package cluster

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// dbscan labels n points with fixed-radius density clustering.
//
// A point is core when its eps-neighborhood, itself included, holds at least
// minSamples points. Clusters grow from core points through the neighborhoods of
// other core points; border points join the first cluster that reaches them.
// Clusters are numbered from 0 in the order their first core point appears, so
// the same input always produces the same labels.
func dbscan(n int, idx neighborIndex, eps float64, minSamples int) []int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = NoiseLabel
	}

	visited := roaring.New()
	clusterID := 0

	for i := range n {
		if visited.Contains(uint32(i)) {
			continue
		}
		visited.Add(uint32(i))

		neighbors := idx.radius(i, eps)
		if len(neighbors) < minSamples {
			continue
		}

		labels[i] = clusterID

		queued := roaring.New()
		queue := make([]int, 0, len(neighbors))
		for _, j := range neighbors {
			if j != i && queued.CheckedAdd(uint32(j)) {
				queue = append(queue, j)
			}
		}

		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if labels[j] == NoiseLabel {
				labels[j] = clusterID
			}
			if visited.Contains(uint32(j)) {
				continue
			}
			visited.Add(uint32(j))

			expand := idx.radius(j, eps)
			if len(expand) < minSamples {
				continue
			}
			for _, k := range expand {
				if labels[k] == NoiseLabel && queued.CheckedAdd(uint32(k)) {
					queue = append(queue, k)
				}
			}
		}

		clusterID++
	}

	return labels
}
