package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// NopStore is used when no history database is configured. Writes succeed
// without effect and every lookup misses.
type NopStore struct{}

func (NopStore) Ping(context.Context) error { return nil }

func (NopStore) CreateTask(context.Context, *models.Task) error { return nil }

func (NopStore) GetTask(context.Context, uuid.UUID) (*models.Task, error) { return nil, ErrNotFound }

func (NopStore) UpdateTaskStatus(context.Context, uuid.UUID, models.TaskStatus, ...TaskUpdateOption) error {
	return nil
}

var _ Store = NopStore{}
