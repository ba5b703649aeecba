package pipeline

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/face"
)

// ErrNoFaces is the error of a run in which no detection passed the filters.
var ErrNoFaces = errors.New("no faces found")

// ErrInvalidTaskID is returned for task ids that cannot be used as a storage prefix.
var ErrInvalidTaskID = errors.New("invalid task id")

// ErrTaskIDInUse is returned when a task id belongs to a running run or already
// has stored files.
var ErrTaskIDInUse = errors.New("task id already in use")

// ErrDuplicateImageID is returned when two images of a request share an id.
var ErrDuplicateImageID = errors.New("duplicate image id")

// DetectorError reports a failed detection for one image. It never aborts a run.
type DetectorError struct {
	ImageID string
	Err     error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector failed for image %s: %v", e.ImageID, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// Stage names a step of a run reported to a ProgressFunc.
type Stage string

const (
	StageDetect   Stage = "detect"
	StageCluster  Stage = "cluster"
	StageAnnotate Stage = "annotate"
)

// ProgressFunc receives progress updates. Calls are serialized.
type ProgressFunc func(stage Stage, done, total int)

// Image is one input of a run.
type Image struct {
	// ID identifies the image in metadata. Defaults to "img<index>".
	ID   string
	Name string
	// Data is the encoded image. It may be empty when Detections is set, in
	// which case nothing is stored or annotated for the image.
	Data []byte
	// Detections, when non-nil, are used instead of calling the detector.
	Detections []face.Detection
}

// Options tunes a single run.
type Options struct {
	Clustering cluster.Params
	Filter     face.FilterOptions
	Progress   ProgressFunc
}

// Request is the input of Run.
type Request struct {
	// TaskID namespaces identifiers and stored files. A fresh UUID is used when empty.
	TaskID  string
	Images  []Image
	Options Options
}

// FaceMetadata describes one face in the response.
type FaceMetadata struct {
	ImageID    string    `json:"image_id"`
	ImageName  string    `json:"image_name"`
	FaceIndex  int       `json:"face_index"`
	BBox       face.BBox `json:"bbox"`
	Confidence float64   `json:"confidence"`
	// OriginalImage and BoxedImage are storage keys. They are empty when the
	// image was not stored.
	OriginalImage string `json:"original_image"`
	BoxedImage    string `json:"boxed_image"`
}

// FailedImage is an image whose faces are missing from the run.
type FailedImage struct {
	ImageID string `json:"image_id"`
	Name    string `json:"name"`
	Error   string `json:"error"`
}

// Response is the outcome of a run.
type Response struct {
	Success       bool                    `json:"success"`
	TaskID        string                  `json:"task_id,omitempty"`
	Clusters      map[string][]string     `json:"clusters,omitempty"`
	Embeddings    map[string][]float32    `json:"embeddings,omitempty"`
	FacesMetadata map[string]FaceMetadata `json:"faces_metadata,omitempty"`
	TotalFaces    int                     `json:"total_faces"`
	UniquePersons int                     `json:"unique_persons"`
	FailedImages  []FailedImage           `json:"failed_images,omitempty"`
	Error         string                  `json:"error,omitempty"`

	err error
}

// Err returns the error that made the run fail, or nil on success.
func (r *Response) Err() error {
	return r.err
}

// Failed returns the response of a run that stopped with err.
func Failed(taskID string, err error) *Response {
	return &Response{
		Success: false,
		TaskID:  taskID,
		Error:   err.Error(),
		err:     err,
	}
}
