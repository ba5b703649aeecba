package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-cluster/internal/config"
	"github.com/kozaktomas/face-cluster/internal/imagestore"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// TasksHandler handles asynchronous clustering tasks.
type TasksHandler struct {
	config      *config.Config
	runner      Runner
	store       imagestore.Store
	taskManager *TaskManager
	logger      *slog.Logger
}

// NewTasksHandler creates a new tasks handler. store may be nil.
func NewTasksHandler(cfg *config.Config, runner Runner, store imagestore.Store, tm *TaskManager, logger *slog.Logger) *TasksHandler {
	return &TasksHandler{
		config:      cfg,
		runner:      runner,
		store:       store,
		taskManager: tm,
		logger:      logger,
	}
}

// Start accepts the same form as Process and runs it in the background.
func (h *TasksHandler) Start(w http.ResponseWriter, r *http.Request) {
	req, err := parseUpload(w, r, h.config)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID := req.taskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	if imagestore.SanitizeName(taskID) != taskID {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if h.store != nil {
		keys, err := h.store.List(r.Context(), taskID)
		if err != nil {
			h.logger.Error("failed to list task files", "task_id", taskID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to check task id")
			return
		}
		if len(keys) > 0 {
			respondError(w, http.StatusConflict, "task already exists")
			return
		}
	}

	// The run outlives the request.
	ctx, cancel := context.WithCancel(context.Background())
	task := h.taskManager.CreateTask(taskID, len(req.images), cancel)
	if task == nil {
		cancel()
		respondError(w, http.StatusConflict, "task already exists")
		return
	}

	opts := req.options
	opts.Progress = task.setProgress
	go h.runTask(ctx, cancel, task, pipeline.Request{TaskID: taskID, Images: req.images, Options: opts})

	respondJSON(w, http.StatusAccepted, map[string]string{
		"task_id": taskID,
		"status":  string(JobStatusPending),
	})
}

func (h *TasksHandler) runTask(ctx context.Context, cancel context.CancelFunc, task *Task, req pipeline.Request) {
	defer cancel()
	task.SendEvent(JobEvent{Type: "started", Message: "Task started"})

	resp := h.runner.Run(ctx, req)
	if ctx.Err() != nil {
		h.logger.Info("task cancelled", "task_id", task.ID)
		return
	}
	task.finish(resp)
}

// Status returns the state of a task, including its result once finished.
func (h *TasksHandler) Status(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "missing task ID")
		return
	}

	task := h.taskManager.GetTask(taskID)
	if task == nil {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	respondJSON(w, http.StatusOK, task.Snapshot())
}

// Events streams task progress via SSE
func (h *TasksHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			task := h.taskManager.GetTask(id)
			if task == nil {
				return nil
			}
			return task
		},
		func(job SSEJob) any {
			return job.(*Task).Snapshot()
		},
	)
}

// Delete cancels a running task, forgets it and removes its stored images.
func (h *TasksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	if taskID == "" || imagestore.SanitizeName(taskID) != taskID {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task := h.taskManager.GetTask(taskID)
	if task != nil {
		task.Cancel()
		h.taskManager.DeleteTask(taskID)
	}

	removed := 0
	if h.store != nil {
		keys, err := h.store.List(r.Context(), taskID)
		if err != nil {
			h.logger.Error("failed to list task files", "task_id", taskID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to list task files")
			return
		}
		removed = len(keys)
		if removed > 0 {
			if err := h.store.DeletePrefix(r.Context(), taskID); err != nil {
				h.logger.Error("failed to delete task files", "task_id", taskID, "error", err)
				respondError(w, http.StatusInternalServerError, "failed to delete task files")
				return
			}
		}
	}

	if task == nil && removed == 0 {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	h.logger.Info("task deleted", "task_id", taskID, "files", removed)
	respondJSON(w, http.StatusOK, map[string]any{
		"deleted":       true,
		"task_id":       taskID,
		"files_removed": removed,
	})
}
