package face

import (
	"cmp"
	"slices"
)

// FilterOptions controls which detections become face records.
type FilterOptions struct {
	// MinSize is the minimum width and height of a face box in pixels.
	MinSize int
	// MinConfidence is the minimum detector score.
	MinConfidence float64
	// MaxOverlap drops a detection whose IoU with an already kept, higher scoring
	// detection of the same image exceeds it. Zero disables the check.
	MaxOverlap float64
}

// Filter returns the detections that pass the size, confidence and overlap checks,
// preserving the detector's order.
func Filter(dets []Detection, opts FilterOptions) []Detection {
	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < opts.MinConfidence {
			continue
		}
		if d.BBox.Width() < float64(opts.MinSize) || d.BBox.Height() < float64(opts.MinSize) {
			continue
		}
		kept = append(kept, d)
	}

	if opts.MaxOverlap <= 0 || len(kept) < 2 {
		return kept
	}
	return suppressOverlaps(kept, opts.MaxOverlap)
}

// suppressOverlaps keeps the higher scoring box of every overlapping pair.
func suppressOverlaps(dets []Detection, maxOverlap float64) []Detection {
	order := make([]int, len(dets))
	for i := range order {
		order[i] = i
	}
	// Highest confidence first, ties by original position.
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(dets[b].Confidence, dets[a].Confidence)
	})

	dropped := make([]bool, len(dets))
	for i, a := range order {
		if dropped[a] {
			continue
		}
		for _, b := range order[i+1:] {
			if !dropped[b] && ComputeIoU(dets[a].BBox, dets[b].BBox) > maxOverlap {
				dropped[b] = true
			}
		}
	}

	kept := make([]Detection, 0, len(dets))
	for i, d := range dets {
		if !dropped[i] {
			kept = append(kept, d)
		}
	}
	return kept
}
