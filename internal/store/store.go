package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid task status transition")

// Store is the task history interface. The status store stays the source of
// truth for polling; history is written alongside it when a database is configured.
type Store interface {
	Ping(ctx context.Context) error

	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	UpdateTaskStatus(ctx context.Context, id uuid.UUID, status models.TaskStatus, opts ...TaskUpdateOption) error
}

type taskUpdateParams struct {
	ResultURL    *string
	ErrorMessage *string
}

type TaskUpdateOption func(*taskUpdateParams)

func WithResultURL(url string) TaskUpdateOption {
	return func(p *taskUpdateParams) {
		p.ResultURL = &url
	}
}

func WithErrorMessage(msg string) TaskUpdateOption {
	return func(p *taskUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// validTransitions lists the statuses a task may move to. Processing may be
// re-entered once by the background job before it reaches a terminal state.
var validTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusProcessing: {models.TaskStatusProcessing, models.TaskStatusCompleted, models.TaskStatusError},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to models.TaskStatus) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
