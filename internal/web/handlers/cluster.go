package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kozaktomas/face-cluster/internal/constants"
	"github.com/kozaktomas/face-cluster/internal/face"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// ClusterImage is one image of a precomputed clustering request.
type ClusterImage struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Detections []face.Detection `json:"detections"`
}

// ClusterRequest clusters detections that were computed elsewhere.
type ClusterRequest struct {
	TaskID  string         `json:"task_id"`
	Images  []ClusterImage `json:"images"`
	Options OptionsRequest `json:"options"`
}

// Cluster groups precomputed detections. Nothing is stored or annotated.
func (h *ProcessHandler) Cluster(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxClusterRequestSize)

	var req ClusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if len(req.Images) == 0 {
		respondError(w, http.StatusBadRequest, "no images provided")
		return
	}

	opts, err := req.Options.resolve(h.config)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	images := make([]pipeline.Image, len(req.Images))
	for i, img := range req.Images {
		dets := img.Detections
		if dets == nil {
			dets = []face.Detection{}
		}
		images[i] = pipeline.Image{ID: img.ID, Name: img.Name, Detections: dets}
	}

	resp := h.runner.Run(r.Context(), pipeline.Request{
		TaskID:  req.TaskID,
		Images:  images,
		Options: opts,
	})
	respondRun(w, resp)
}
