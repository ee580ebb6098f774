package api

import (
	"context"

	"tasklog-api/domain"
)

// Service is the task use-case surface the handlers drive.
type Service interface {
	Create(ctx context.Context, in domain.TaskInput, callerID int64) (*domain.Task, error)
	FindAll(ctx context.Context, q domain.ListQuery, callerID int64) (domain.Page, error)
	FindOne(ctx context.Context, id, callerID int64) (*domain.Task, error)
	Update(ctx context.Context, id int64, patch domain.TaskPatch, callerID int64) (*domain.Task, error)
	Remove(ctx context.Context, id, callerID int64) (domain.DeleteResult, error)
}

// Deduper prevents processing of duplicate create requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, callerID int64, key string) (bool, error)
	// Remove deletes a previously added key, used when the create fails.
	Remove(ctx context.Context, callerID int64, key string) error
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
