package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kozaktomas/face-cluster/internal/metric"
)

// CompareRequest holds the two embeddings to compare.
type CompareRequest struct {
	Embedding1 []float32 `json:"embedding1"`
	Embedding2 []float32 `json:"embedding2"`
}

// Compare reports the cosine similarity of two face embeddings.
func Compare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	result, err := metric.Compare(req.Embedding1, req.Embedding2)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}
