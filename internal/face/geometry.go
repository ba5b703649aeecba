package face

// ComputeIoU calculates Intersection over Union between two bounding boxes
// in the same coordinate system.
func ComputeIoU(a, b BBox) float64 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Width()*a.Height() + b.Width()*b.Height() - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}
