package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/constants"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// Runner executes a clustering run. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Response
}

// ProcessHandler handles the synchronous clustering endpoints.
type ProcessHandler struct {
	config *config.Config
	runner Runner
	logger *slog.Logger
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(cfg *config.Config, runner Runner, logger *slog.Logger) *ProcessHandler {
	return &ProcessHandler{
		config: cfg,
		runner: runner,
		logger: logger,
	}
}

// uploadRequest is a parsed multipart clustering request.
type uploadRequest struct {
	taskID  string
	images  []pipeline.Image
	options pipeline.Options
}

// parseUpload reads images and options from a multipart form. Every error is a
// client error.
func parseUpload(w http.ResponseWriter, r *http.Request, cfg *config.Config) (*uploadRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxMultipartMemory); err != nil {
		return nil, errors.New("failed to parse multipart form")
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		files = r.MultipartForm.File["images[]"]
	}
	if len(files) == 0 {
		return nil, errors.New("no images provided")
	}

	images, err := readUploadedFiles(files)
	if err != nil {
		return nil, err
	}

	overrides, err := optionsFromForm(r)
	if err != nil {
		return nil, err
	}
	opts, err := overrides.resolve(cfg)
	if err != nil {
		return nil, err
	}

	return &uploadRequest{
		taskID:  r.FormValue("task_id"),
		images:  images,
		options: opts,
	}, nil
}

// readUploadedFiles loads multipart files into memory in upload order.
func readUploadedFiles(files []*multipart.FileHeader) ([]pipeline.Image, error) {
	images := make([]pipeline.Image, 0, len(files))
	for _, fileHeader := range files {
		data, err := func() ([]byte, error) {
			file, err := fileHeader.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open file: %s", fileHeader.Filename)
			}
			defer file.Close()
			return io.ReadAll(file)
		}()
		if err != nil {
			return nil, err
		}
		images = append(images, pipeline.Image{Name: fileHeader.Filename, Data: data})
	}
	return images, nil
}

// Process detects, clusters and annotates the uploaded images.
func (h *ProcessHandler) Process(w http.ResponseWriter, r *http.Request) {
	req, err := parseUpload(w, r, h.config)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := h.runner.Run(r.Context(), pipeline.Request{
		TaskID:  req.taskID,
		Images:  req.images,
		Options: req.options,
	})
	if !resp.Success {
		h.logger.Warn("process request failed", "task_id", sanitizeForLog(resp.TaskID), "error", resp.Error)
	}
	respondRun(w, resp)
}
