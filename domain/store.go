package domain

import "context"

// TagStore persists tags.
type TagStore interface {
	// FindTagsByName returns the tags whose name is in names, in any order.
	FindTagsByName(ctx context.Context, names []string) ([]Tag, error)
	// InsertTags creates a tag per name, silently skipping names that already exist.
	InsertTags(ctx context.Context, names []string) error
}

// UserStore resolves users. GetUser returns nil, nil when the user does not exist.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*User, error)
}

// AuditLog is the append-only task log.
type AuditLog interface {
	AppendLog(ctx context.Context, entry *TaskLog) error
	HasLog(ctx context.Context, q LogQuery) (bool, error)
}

// TaskStore persists tasks. GetTask returns nil, nil for absent or
// soft-deleted tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id int64) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	SoftDeleteTask(ctx context.Context, id int64) error
	ListTasks(ctx context.Context, f TaskFilter) ([]Task, int64, error)
}

// Store groups every persistence capability the task service needs.
type Store interface {
	TaskStore
	TagStore
	UserStore
	AuditLog
	// Tx runs fn against a transactional view of the store. The transaction
	// commits when fn returns nil and rolls back otherwise.
	Tx(ctx context.Context, fn func(Store) error) error
}

// AuditSink receives audit entries after their transaction committed.
// Publish must not block the request path; it reports whether the entry was accepted.
type AuditSink interface {
	Publish(entry TaskLog) bool
}
