// Package face holds the face records of one clustering run and the helpers
// that turn raw detector output into them.
package face

// BBox is a bounding box [x1, y1, x2, y2] in pixel coordinates of the source image.
type BBox [4]float64

// Width returns the horizontal extent of the box.
func (b BBox) Width() float64 {
	return b[2] - b[0]
}

// Height returns the vertical extent of the box.
func (b BBox) Height() float64 {
	return b[3] - b[1]
}

// Ints returns the box rounded down to whole pixels.
func (b BBox) Ints() [4]int {
	return [4]int{int(b[0]), int(b[1]), int(b[2]), int(b[3])}
}

// Detection is a single face reported by the detector for one image.
type Detection struct {
	Index      int       `json:"face_index"`
	Embedding  []float32 `json:"embedding"`
	BBox       BBox      `json:"bbox"`
	Confidence float64   `json:"det_score"`
}

// Metadata describes where a face record came from.
type Metadata struct {
	ImageID    string  `json:"image_id"`
	ImageName  string  `json:"image_name"`
	FaceIndex  int     `json:"face_index"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`

	// Extra carries caller-defined annotations that are passed through untouched.
	Extra map[string]string `json:"extra,omitempty"`
}

// Record is one detected face within a run. It is immutable once added to a Store.
type Record struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
}
