package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/face-cluster/internal/constants"
	"github.com/kozaktomas/face-cluster/internal/pipeline"
)

// JobStatus represents the status of an async task.
type JobStatus string

// JobStatus constants define the lifecycle states of an async task.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// isJobTerminal returns true if the job status is a terminal state
func isJobTerminal(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// isTerminalEvent reports whether an event is the last one a task sends.
func isTerminalEvent(eventType string) bool {
	switch eventType {
	case "completed", "task_error", "cancelled":
		return true
	}
	return false
}

// TaskProgress is the last progress update of a task.
type TaskProgress struct {
	Stage pipeline.Stage `json:"stage"`
	Done  int            `json:"done"`
	Total int            `json:"total"`
}

// Task is an asynchronous clustering run.
type Task struct {
	EventBroadcaster

	ID          string
	Status      JobStatus
	Images      int
	Progress    TaskProgress
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
	Result      *pipeline.Response
}

// TaskSnapshot is the JSON view of a task.
type TaskSnapshot struct {
	ID          string             `json:"task_id"`
	Status      JobStatus          `json:"status"`
	Images      int                `json:"images"`
	Progress    TaskProgress       `json:"progress"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Result      *pipeline.Response `json:"result,omitempty"`
}

// Snapshot returns a consistent copy of the task state.
func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TaskSnapshot{
		ID:          t.ID,
		Status:      t.Status,
		Images:      t.Images,
		Progress:    t.Progress,
		Error:       t.Error,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Result:      t.Result,
	}
}

// GetStatus returns the current task status (implements SSEJob).
func (t *Task) GetStatus() JobStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Status
}

// Cancel cancels the task unless it already finished.
func (t *Task) Cancel() {
	t.mu.Lock()
	if isJobTerminal(t.Status) {
		t.mu.Unlock()
		return
	}
	t.Status = JobStatusCancelled
	now := time.Now()
	t.CompletedAt = &now
	t.mu.Unlock()
	t.EventBroadcaster.Cancel()
}

func (t *Task) setProgress(stage pipeline.Stage, done, total int) {
	t.mu.Lock()
	if t.Status == JobStatusPending {
		t.Status = JobStatusRunning
	}
	t.Progress = TaskProgress{Stage: stage, Done: done, Total: total}
	t.mu.Unlock()
	t.SendEvent(JobEvent{Type: "progress", Data: TaskProgress{Stage: stage, Done: done, Total: total}})
}

// finish records the outcome of the run. A cancelled task keeps its status.
func (t *Task) finish(resp *pipeline.Response) {
	now := time.Now()
	t.mu.Lock()
	if t.Status == JobStatusCancelled {
		t.mu.Unlock()
		return
	}
	t.CompletedAt = &now
	t.Result = resp
	if resp.Success {
		t.Status = JobStatusCompleted
	} else {
		t.Status = JobStatusFailed
		t.Error = resp.Error
	}
	status := t.Status
	t.mu.Unlock()

	if status == JobStatusCompleted {
		t.SendEvent(JobEvent{Type: "completed", Data: resp})
	} else {
		t.SendEvent(JobEvent{Type: "task_error", Message: resp.Error})
	}
}

func (t *Task) finishedBefore(cutoff time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.CompletedAt != nil && t.CompletedAt.Before(cutoff)
}

// JobEvent represents an event from a task.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async tasks.
// Embed this in task structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the task via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	b.mu.RLock()
	cancel := b.cancel
	b.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Task cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream task events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// TaskManager keeps async tasks in memory. Finished tasks are forgotten after
// constants.FinishedTaskTTL minutes.
type TaskManager struct {
	tasks map[string]*Task
	ttl   time.Duration
	mu    sync.RWMutex
}

// NewTaskManager creates a new task manager.
func NewTaskManager() *TaskManager {
	return &TaskManager{
		tasks: make(map[string]*Task),
		ttl:   constants.FinishedTaskTTL * time.Minute,
	}
}

// CreateTask registers a pending task. It returns nil when the id is taken.
func (m *TaskManager) CreateTask(id string, images int, cancel context.CancelFunc) *Task {
	task := &Task{
		ID:        id,
		Status:    JobStatusPending,
		Images:    images,
		StartedAt: time.Now(),
	}
	task.cancel = cancel

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(time.Now().Add(-m.ttl))
	if _, exists := m.tasks[id]; exists {
		return nil
	}
	m.tasks[id] = task
	return task
}

// GetTask retrieves a task by ID.
func (m *TaskManager) GetTask(id string) *Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasks[id]
}

// DeleteTask removes a task.
func (m *TaskManager) DeleteTask(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}

// ListTasks returns all tasks.
func (m *TaskManager) ListTasks() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, task)
	}
	return tasks
}

func (m *TaskManager) pruneLocked(cutoff time.Time) {
	for id, task := range m.tasks {
		if task.finishedBefore(cutoff) {
			delete(m.tasks, id)
		}
	}
}
