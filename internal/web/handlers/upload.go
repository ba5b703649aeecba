package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-cluster/internal/imagestore"
)

// UploadsHandler serves stored originals and annotated face images.
type UploadsHandler struct {
	store  imagestore.Store
	logger *slog.Logger
}

// NewUploadsHandler creates a new uploads handler.
func NewUploadsHandler(store imagestore.Store, logger *slog.Logger) *UploadsHandler {
	return &UploadsHandler{store: store, logger: logger}
}

// Get streams the stored file under the wildcard key.
func (h *UploadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if h.store == nil {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}

	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, imagestore.ErrNotFound) || errors.Is(err, imagestore.ErrInvalidKey) {
			respondError(w, http.StatusNotFound, "file not found")
			return
		}
		h.logger.Error("failed to open stored file", "key", sanitizeForLog(key), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to open file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", imagestore.ContentType(key))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}
