package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-cluster/internal/cluster"
	"github.com/kozaktomas/face-cluster/internal/face"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// runStatus maps the outcome of a pipeline run to an HTTP status code.
func runStatus(resp *pipeline.Response) int {
	err := resp.Err()
	switch {
	case resp.Success:
		return http.StatusOK
	case errors.Is(err, pipeline.ErrNoFaces):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrTaskIDInUse):
		return http.StatusConflict
	case errors.Is(err, cluster.ErrConfiguration),
		errors.Is(err, pipeline.ErrInvalidTaskID),
		errors.Is(err, pipeline.ErrDuplicateImageID),
		errors.Is(err, face.ErrEmptyEmbedding):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondRun sends the payload of a finished pipeline run.
func respondRun(w http.ResponseWriter, resp *pipeline.Response) {
	respondJSON(w, runStatus(resp), resp)
}
