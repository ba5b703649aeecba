// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Upload constants
const (
	// MaxUploadSize is the maximum request body of a multipart upload in bytes (100MB)
	MaxUploadSize = 100 << 20

	// MaxMultipartMemory is the part of an upload kept in memory before spilling to disk
	MaxMultipartMemory = 32 << 20

	// MaxClusterRequestSize is the maximum JSON body of a precomputed clustering request (50MB)
	MaxClusterRequestSize = 50 << 20
)

// Image constants
const (
	// AnnotationQuality is the JPEG quality of annotated face images
	AnnotationQuality = 90

	// AnnotationLineWidth is the thickness of the drawn face box in pixels
	AnnotationLineWidth = 4
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100

	// FinishedTaskTTL is how long a finished task stays queryable, in minutes
	FinishedTaskTTL = 60
)

// Image file extensions accepted by the folder clustering command
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}
