// Package tryon owns the task lifecycle: it validates uploads, records status,
// hands the work to the worker pool and records the outcome.
package tryon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/cache"
	"github.com/kiranshivaraju/tryon/internal/gateway"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/internal/worker"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrBusy         = errors.New("server is busy")
)

// Error reasons recorded when the routine itself fails.
const (
	reasonPanic       = "Panic"
	reasonStatusStore = "StatusStoreError"
	reasonUnknown     = "UnknownError"
	reasonQueueFull   = "QueueFull"
)

const (
	rolePerson  = "person"
	roleGarment = "garment"
)

// Uploads stores and removes the temporary input files.
type Uploads interface {
	Save(taskID uuid.UUID, role, filename string, r io.Reader) (string, error)
	Remove(paths ...string) error
}

// Runner performs one inference for a task and returns the result URL.
type Runner interface {
	Run(ctx context.Context, taskID uuid.UUID, personPath, garmentPath string) (string, error)
}

// Submitter queues background work without blocking.
type Submitter interface {
	Submit(job worker.Job) error
}

// Manager coordinates task creation, background execution and status lookup.
type Manager struct {
	cache     cache.Cache
	history   store.Store
	uploads   Uploads
	gateway   Runner
	pool      Submitter
	statusTTL time.Duration
}

// NewManager creates a new Manager. history may be store.NopStore{}.
func NewManager(c cache.Cache, history store.Store, uploads Uploads, gw Runner, pool Submitter, statusTTL time.Duration) *Manager {
	return &Manager{
		cache:     c,
		history:   history,
		uploads:   uploads,
		gateway:   gw,
		pool:      pool,
		statusTTL: statusTTL,
	}
}

// CreateTask validates the pair, stores both files, records Processing and
// queues the background job. It returns without waiting for inference.
func (m *Manager) CreateTask(ctx context.Context, person, garment *Upload) (uuid.UUID, error) {
	if err := validatePair(person, garment); err != nil {
		return uuid.Nil, err
	}

	taskID := uuid.New()

	personPath, err := m.uploads.Save(taskID, rolePerson, person.Filename, bytes.NewReader(person.Data))
	if err != nil {
		return uuid.Nil, fmt.Errorf("saving person image: %w", err)
	}
	garmentPath, err := m.uploads.Save(taskID, roleGarment, garment.Filename, bytes.NewReader(garment.Data))
	if err != nil {
		m.removeInputs(taskID, personPath)
		return uuid.Nil, fmt.Errorf("saving garment image: %w", err)
	}

	if err := m.cache.SetTaskStatus(ctx, taskID, models.ProcessingRecord(), m.statusTTL); err != nil {
		m.removeInputs(taskID, personPath, garmentPath)
		return uuid.Nil, fmt.Errorf("recording task status: %w", err)
	}

	now := time.Now().UTC()
	if err := m.history.CreateTask(ctx, &models.Task{
		ID:              taskID,
		Status:          models.TaskStatusProcessing,
		PersonFilename:  person.Filename,
		GarmentFilename: garment.Filename,
		CreatedAt:       now,
		UpdatedAt:       now,
	}); err != nil {
		slog.Warn("failed to record task history", "task_id", taskID, "error", err)
	}

	err = m.pool.Submit(func(jobCtx context.Context) {
		m.process(jobCtx, taskID, personPath, garmentPath)
	})
	if err != nil {
		m.reject(ctx, taskID, personPath, garmentPath)
		if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrPoolClosed) {
			return uuid.Nil, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return uuid.Nil, fmt.Errorf("submitting task: %w", err)
	}

	slog.Info("task created", "task_id", taskID)
	return taskID, nil
}

// GetStatus returns the stored record for id. When the status key is gone the
// history row is used and the key restored.
func (m *Manager) GetStatus(ctx context.Context, id string) (models.TaskRecord, error) {
	taskID, err := uuid.Parse(id)
	if err != nil {
		return models.TaskRecord{}, ErrTaskNotFound
	}

	rec, found, err := m.cache.GetTaskStatus(ctx, taskID)
	if err != nil {
		return models.TaskRecord{}, fmt.Errorf("reading task status: %w", err)
	}
	if found {
		return rec, nil
	}

	task, err := m.history.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return models.TaskRecord{}, ErrTaskNotFound
	}
	if err != nil {
		return models.TaskRecord{}, fmt.Errorf("reading task history: %w", err)
	}

	rec = task.Record()
	if err := m.cache.SetTaskStatus(ctx, taskID, rec, m.statusTTL); err != nil {
		slog.Warn("failed to restore task status", "task_id", taskID, "error", err)
	}
	return rec, nil
}

// process is the background routine for one task. Every exit path leaves a
// terminal record and removes both inputs.
func (m *Manager) process(ctx context.Context, taskID uuid.UUID, personPath, garmentPath string) {
	// Status writes must land even after the pool cancels ctx.
	writeCtx := context.WithoutCancel(ctx)
	start := time.Now()

	defer m.removeInputs(taskID, personPath, garmentPath)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in try-on task", "task_id", taskID, "error", r, "stack", string(debug.Stack()))
			m.record(writeCtx, taskID, models.ErrorRecord(reasonPanic))
		}
	}()

	if err := m.cache.SetTaskStatus(writeCtx, taskID, models.ProcessingRecord(), m.statusTTL); err != nil {
		slog.Error("failed to record processing status", "task_id", taskID, "error", err)
		m.record(writeCtx, taskID, models.ErrorRecord(reasonStatusStore))
		return
	}
	if err := m.history.UpdateTaskStatus(writeCtx, taskID, models.TaskStatusProcessing); err != nil {
		slog.Warn("failed to update task history", "task_id", taskID, "error", err)
	}

	url, err := m.gateway.Run(ctx, taskID, personPath, garmentPath)
	if err != nil {
		class := gateway.ErrorClass(err)
		if class == "" {
			class = reasonUnknown
		}
		slog.Warn("try-on failed",
			"task_id", taskID,
			"class", class,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		m.finish(writeCtx, taskID, models.ErrorRecord(class))
		return
	}

	slog.Info("try-on completed", "task_id", taskID, "url", url, "duration_ms", time.Since(start).Milliseconds())
	m.finish(writeCtx, taskID, models.CompletedRecord(url))
}

// finish writes a terminal record. A failed write is replaced by a
// StatusStoreError record so pollers still see a terminal state.
func (m *Manager) finish(ctx context.Context, taskID uuid.UUID, rec models.TaskRecord) {
	if err := m.cache.SetTaskStatus(ctx, taskID, rec, m.statusTTL); err != nil {
		slog.Error("failed to record task result", "task_id", taskID, "status", rec.Status, "error", err)
		m.record(ctx, taskID, models.ErrorRecord(reasonStatusStore))
		return
	}
	m.recordHistory(ctx, taskID, rec)
}

// record is the last-resort write used by the failure paths.
func (m *Manager) record(ctx context.Context, taskID uuid.UUID, rec models.TaskRecord) {
	if err := m.cache.SetTaskStatus(ctx, taskID, rec, m.statusTTL); err != nil {
		slog.Error("failed to record task error", "task_id", taskID, "reason", rec.Error, "error", err)
	}
	m.recordHistory(ctx, taskID, rec)
}

func (m *Manager) recordHistory(ctx context.Context, taskID uuid.UUID, rec models.TaskRecord) {
	var opts []store.TaskUpdateOption
	if rec.URL != "" {
		opts = append(opts, store.WithResultURL(rec.URL))
	}
	if rec.Error != "" {
		opts = append(opts, store.WithErrorMessage(rec.Error))
	}
	if err := m.history.UpdateTaskStatus(ctx, taskID, rec.Status, opts...); err != nil {
		slog.Warn("failed to update task history", "task_id", taskID, "status", rec.Status, "error", err)
	}
}

// reject undoes CreateTask when the job could not be queued. The status key
// and inputs are removed; the history row is closed as QueueFull.
func (m *Manager) reject(ctx context.Context, taskID uuid.UUID, paths ...string) {
	if err := m.cache.DeleteTaskStatus(ctx, taskID); err != nil {
		slog.Warn("failed to delete rejected task status", "task_id", taskID, "error", err)
	}
	if err := m.history.UpdateTaskStatus(ctx, taskID, models.TaskStatusError, store.WithErrorMessage(reasonQueueFull)); err != nil {
		slog.Warn("failed to update task history", "task_id", taskID, "error", err)
	}
	m.removeInputs(taskID, paths...)
	slog.Warn("task rejected, worker queue full", "task_id", taskID)
}

func (m *Manager) removeInputs(taskID uuid.UUID, paths ...string) {
	if err := m.uploads.Remove(paths...); err != nil {
		slog.Warn("failed to remove task inputs", "task_id", taskID, "error", err)
	}
}
